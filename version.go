package prostlog

// Version is the engine version reported to the backend and the CLI.
var Version = "0.3.0"
