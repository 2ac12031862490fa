// Package shutdown runs registered cleanup hooks when the process is
// asked to stop.
//
//	h := shutdown.NewHandler(30*time.Second, logger)
//	h.OnShutdown("storage", engine.Close)
//	err := h.Wait(ctx)
package shutdown
