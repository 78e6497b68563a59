package dropstore

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/transfa/linkdrop-service/internal/asset"
)

// Config is the claim configuration chosen by the funder.
type Config struct {
	UsesPerKey    uint32 `json:"uses_per_key"`
	LazyRegister  bool   `json:"lazy_register"`
	KeepEmptyDrop bool   `json:"keep_empty_drop"`
}

// Drop is a funder-created container of claimable assets. Credentials are
// referenced by public key only; the registry owns the records.
type Drop struct {
	ID          string
	FunderID    string
	Assets      map[string]asset.Asset
	Config      Config
	Credentials map[string]struct{}
	NextKeyID   uint64
	CreatedAt   time.Time
}

// AssetIDs returns the declared asset ids in a stable order.
func (d *Drop) AssetIDs() []string {
	ids := make([]string, 0, len(d.Assets))
	for id := range d.Assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CredentialKeys returns the referenced public keys in a stable order.
func (d *Drop) CredentialKeys() []string {
	keys := make([]string, 0, len(d.Credentials))
	for k := range d.Credentials {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reserved counts unresolved reservations across every asset.
func (d *Drop) Reserved() int {
	n := 0
	for _, a := range d.Assets {
		n += a.Reserved()
	}
	return n
}

// Clone returns a deep copy safe to hand to readers.
func (d *Drop) Clone() *Drop {
	out := *d
	out.Assets = make(map[string]asset.Asset, len(d.Assets))
	for id, a := range d.Assets {
		out.Assets[id] = a.Clone()
	}
	out.Credentials = make(map[string]struct{}, len(d.Credentials))
	for k := range d.Credentials {
		out.Credentials[k] = struct{}{}
	}
	return &out
}

type dropJSON struct {
	ID          string          `json:"id"`
	FunderID    string          `json:"funder_id"`
	Assets      json.RawMessage `json:"assets"`
	Config      Config          `json:"config"`
	Credentials []string        `json:"credentials"`
	NextKeyID   uint64          `json:"next_key_id"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (d *Drop) MarshalJSON() ([]byte, error) {
	assets, err := asset.Marshal(d.Assets)
	if err != nil {
		return nil, err
	}
	return json.Marshal(dropJSON{
		ID:          d.ID,
		FunderID:    d.FunderID,
		Assets:      assets,
		Config:      d.Config,
		Credentials: d.CredentialKeys(),
		NextKeyID:   d.NextKeyID,
		CreatedAt:   d.CreatedAt,
	})
}

func (d *Drop) UnmarshalJSON(data []byte) error {
	var raw dropJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	assets, err := asset.Unmarshal(raw.Assets)
	if err != nil {
		return err
	}
	d.ID = raw.ID
	d.FunderID = raw.FunderID
	d.Assets = assets
	d.Config = raw.Config
	d.Credentials = make(map[string]struct{}, len(raw.Credentials))
	for _, k := range raw.Credentials {
		d.Credentials[k] = struct{}{}
	}
	d.NextKeyID = raw.NextKeyID
	d.CreatedAt = raw.CreatedAt
	return nil
}
