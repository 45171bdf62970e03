package version

// Current defines the application version.
// It defaults to "dev" and is overwritten at build time with -ldflags.
var Current = "dev"

// Commit is the source revision, injected the same way.
var Commit = "none"

const AppName = "CloudMind"

// String renders the version line printed by the CLI.
func String() string {
	return AppName + " " + Current + " (" + Commit + ")"
}
