package main

// GlobalFlags holds the persistent flags.
type GlobalFlags struct {
	ConfigPath string
	StateDir   string
}

// RunFlags override config values for a single run.
type RunFlags struct {
	Dev       bool
	Binary    string
	NoBrowser bool
	OpsListen string
}
