// Package app provides the application context for berth.
//
// This package manages application-wide dependencies using the functional
// options pattern, enabling easy testing through dependency injection.
//
// # App Context
//
// The App struct holds core dependencies:
//
//	type App struct {
//	    Paths     *config.Paths          // Config and state locations
//	    Config    *config.Config         // Loaded config.toml
//	    Runtime   runtime.Runtime        // Container runtime
//	    Launcher  system.CommandExecutor // Host process launcher
//	    FS        system.FileSystem      // State file access
//	    Prober    port.Prober            // Host port probe
//	    Forwarder forward.Forwarder      // Forward backend override
//	    Clipboard clipboard.Clipboard    // Clipboard override
//	}
//
// # Workspaces
//
// Open resolves the dev container of a workspace and returns a Workspace
// with a forward controller whose registry was rebuilt from the backend:
//
//	w, err := app.Default.Open(ctx, dir)
//	fwds, err := w.Controller.Add(ctx, reqs)
//
// # Testing
//
//	a := app.New(
//	    app.WithPaths(testPaths),
//	    app.WithConfig(config.Default()),
//	    app.WithRuntime(runtime.NewMockRuntime()),
//	    app.WithForwarder(forward.NewMemForwarder()),
//	)
package app
