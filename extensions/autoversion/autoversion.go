// Package autoversion discovers the newest Salesforce API version before
// every handshake
package autoversion

import (
	"context"
	"encoding/json"

	"github.com/sigmavirus24/sfstreaming"
)

// DiscoveryPath lists the API versions supported by the instance
const DiscoveryPath = "/services/data/"

type version struct {
	Version string `json:"version"`
}

// Extension adopts the last version listed by DiscoveryPath
type Extension struct {
	sfstreaming.Streamer
}

// Layer wraps next with the version discovery extension
func Layer(next sfstreaming.Streamer) sfstreaming.Streamer {
	return &Extension{Streamer: next}
}

// Handshake implements the Streamer interface. A discovery response that
// can't be decoded leaves the version unchanged; a failed request is
// returned.
func (e *Extension) Handshake(ctx context.Context) ([]sfstreaming.Message, error) {
	engine := e.Engine()
	logger := engine.Logger().WithField("at", "autoversion")

	raw, err := engine.Get(ctx, DiscoveryPath)
	if err != nil {
		logger.WithError(err).Debug("error during request")
		return nil, err
	}

	var versions []version
	if err := json.Unmarshal(raw, &versions); err != nil {
		logger.WithError(err).Debug("could not decode versions")
	} else if len(versions) > 0 && versions[len(versions)-1].Version != "" {
		engine.SetVersion(versions[len(versions)-1].Version)
	}
	logger.WithField("version", engine.Version()).Info("API version used")

	return e.Streamer.Handshake(ctx)
}
