// Package app assembles the bridge between the guiding host and the
// external autoguider.
//
// New builds every component from the configuration: the shared channel,
// the command client and its breaker, the process supervisor, the pulse
// relay, the guiding service and the status server. Run attaches (or
// launches the autoguider), drives the loops and tears everything down
// when the context ends.
//
// Example Usage:
//
//	a, err := app.New(cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := a.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package app
