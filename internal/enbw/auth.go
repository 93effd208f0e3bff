package enbw

import (
	"context"

	"github.com/jkaberg/enbw-hass/internal/config"
)

// Fetcher is the part of Client the authenticator and coordinator need.
type Fetcher interface {
	Fetch(ctx context.Context) (*Snapshot, error)
}

// Authenticate confirms the credentials with one validating fetch and
// returns the snapshot along with the device manufacturer and model.
// AuthError and RemoteError are passed through unchanged.
func Authenticate(ctx context.Context, f Fetcher, creds Credentials) (*Snapshot, string, string, error) {
	if creds.StationID == "" {
		return nil, "", "", config.ErrMissingStationID
	}
	if creds.APIKey == "" {
		return nil, "", "", config.ErrMissingAPIKey
	}

	snap, err := f.Fetch(ctx)
	if err != nil {
		return nil, "", "", err
	}
	return snap, snap.DeviceManufacturer(), snap.DeviceModel(), nil
}
