package config

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	DB                 string // connection string for the database
	CloneDB            string // connection string of a database to restore from
	ClearDB            bool   // remove all race data before starting
	Migrate            bool   // apply the embedded migrations on start
	NatsURL            string // URL of the nats server, empty for the in-process bus
	Instance           string // instance name, appended to the channel names
	WaitForServices    string // duration to wait for other services to be ready
	LogLevel           string // sets the log level (zap log level values)
	SQLLogLevel        string // sets the log level for sql subsystem
	LogFormat          string // text vs json
	LogFilter          string // zapfilter rules, e.g. "info+:* debug+:racelog"
	MigrationSourceURL string // location of migration files
	EnableTelemetry    bool   // enable telemetry
	TelemetryEndpoint  string // endpoint for telemetry, "stdout" for local output
	ProfilingPort      int    // port for profiling
	HTTPAddr           string // listen addr for the read-only http api
	RaceConfigFile     string // path to the race configuration
	WatchRaceCfg       bool   // reload the race configuration on change
	CommandTimeout     string // duration the client waits for a command result
)
