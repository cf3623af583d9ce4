// File: cmd/factory.go
package cmd

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/enjoyfamily583-dotcom/newredirect/internal/classify"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/config"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/detector"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/ledger"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/observability"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/pow"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/ratelimit"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/server"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/verdict"
)

// verifyEndpoint is the path the served detector script reports back to. It
// must match the route registered by the server.
const verifyEndpoint = "/api/verify-human"

// Components holds all the initialized services behind the gate. This struct
// centralizes the wiring so the serve and inspect commands share one builder.
type Components struct {
	Limiter    *ratelimit.Limiter
	Ledger     *ledger.Ledger
	Classifier *classify.Classifier
	Scripts    *detector.Provider
	Engine     *verdict.Engine
	Pow        *pow.Service
	Server     *server.Server
}

// buildComponents handles the full dependency injection of the gate services.
// Order matters: the classifier needs the limiter, the verdict engine needs
// the ledger, and the server needs everything else.
func buildComponents(cfg *config.Config) (*Components, error) {
	logger := observability.GetLogger()
	components := &Components{}

	// 1. Per-IP sliding window limiter.
	components.Limiter = ratelimit.New(cfg.Limiter.Window, cfg.Limiter.SweepChance, logger)
	logger.Debug("Rate limiter initialized.", zap.Duration("window", cfg.Limiter.Window))

	// 2. Fingerprint ledger.
	components.Ledger = ledger.New(cfg.Ledger.TTL, cfg.Ledger.SweepChance, logger)
	logger.Debug("Fingerprint ledger initialized.", zap.Duration("ttl", cfg.Ledger.TTL))

	// 3. Request classifier.
	components.Classifier = classify.New(components.Limiter, cfg.Gate.RateCeiling, logger)
	logger.Debug("Request classifier initialized.", zap.Int("rate_ceiling", cfg.Gate.RateCeiling))

	// 4. Detector script provider.
	components.Scripts = detector.NewProvider(detectorOptions(cfg.Detector), verifyEndpoint, cfg.Detector.AssetTTL, logger)
	// Render once now so a broken template fails the process, not the
	// first visitor.
	if _, err := components.Scripts.Issue(); err != nil {
		return nil, fmt.Errorf("failed to render detector script: %w", err)
	}
	logger.Debug("Detector script provider initialized.")

	// 5. Verdict engine.
	components.Engine = verdict.New(components.Ledger, cfg.Gate.TargetURL, logger)
	logger.Debug("Verdict engine initialized.")

	// 6. Proof-of-work service.
	components.Pow = pow.New(cfg.PoW.Difficulty, logger)
	logger.Debug("Proof-of-work service initialized.", zap.Int("difficulty", cfg.PoW.Difficulty))

	// 7. HTTP server.
	components.Server = server.New(cfg.Server, server.Deps{
		Classifier: components.Classifier,
		Engine:     components.Engine,
		Scripts:    components.Scripts,
		Pow:        components.Pow,
	}, logger)
	logger.Debug("HTTP server initialized.", zap.String("addr", cfg.Server.Addr))

	logger.Info("All gate components initialized successfully.")
	return components, nil
}

// detectorOptions maps the recognized config keys onto the options serialized
// into the served script.
func detectorOptions(cfg config.DetectorConfig) detector.Options {
	return detector.Options{
		CDPWeight:         cfg.CDPWeight,
		BehaviorWeight:    cfg.BehaviorWeight,
		FingerprintWeight: cfg.FingerprintWeight,
		TimingWeight:      cfg.TimingWeight,
		NavigatorWeight:   cfg.NavigatorWeight,
		Threshold:         cfg.Threshold,
		BehaviorTimeoutMs: cfg.BehaviorTimeout.Milliseconds(),
	}
}
