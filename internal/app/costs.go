package app

import (
	"github.com/shopspring/decimal"

	"github.com/transfa/linkdrop-service/internal/dropstore"
)

func (s Settings) storageCost(bytes int64) decimal.Decimal {
	if bytes <= 0 {
		return decimal.Zero
	}
	return s.StoragePricePerByte.Mul(decimal.NewFromInt(bytes))
}

// dropStorageCost covers the drop record and one entry per declared asset.
func (s Settings) dropStorageCost(assets int) decimal.Decimal {
	return s.storageCost(s.DropStorageBytes + s.AssetStorageBytes*int64(assets))
}

// keyStorageCost covers the credential record plus the access-key allowance.
func (s Settings) keyStorageCost() decimal.Decimal {
	return s.storageCost(s.KeyStorageBytes).Add(s.AccessKeyAllowance)
}

func (s Settings) tokenIDStorageCost(n int) decimal.Decimal {
	return s.storageCost(s.TokenIDStorageBytes * int64(n))
}

// perUseCost is the native currency one key prepays for use.
func perUseCost(d *dropstore.Drop, use uint32) decimal.Decimal {
	total := decimal.Zero
	for _, a := range d.Assets {
		total = total.Add(a.NativeCostPerUse(use, d.Config.LazyRegister))
	}
	return total
}

// remainingUsesCost sums the prepaid per-use cost of the last remaining uses.
func remainingUsesCost(d *dropstore.Drop, remaining uint32) decimal.Decimal {
	total := decimal.Zero
	first := d.Config.UsesPerKey - remaining + 1
	for use := first; use <= d.Config.UsesPerKey; use++ {
		total = total.Add(perUseCost(d, use))
	}
	return total
}

// keyCost is the full upfront charge for minting one credential on d.
func (s Settings) keyCost(d *dropstore.Drop) decimal.Decimal {
	return s.keyStorageCost().Add(remainingUsesCost(d, d.Config.UsesPerKey))
}

func decimalFromInt(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}
