package config

import "time"

// Configuration keys. Each key is also the CLI flag name; the environment
// variable is EnvPrefix + the key upper-cased with dashes replaced by
// underscores (sub-qos -> QOS_SUB_QOS).
const (
	KeyConfigFile = "config"

	KeySubQoS    = "sub-qos"
	KeyFile      = "file"
	KeyTransport = "transport"
	KeyBroker    = "broker"
	KeyRedis     = "redis"
	KeyClientID  = "client-id"
	KeyTopicRoot = "topic-root"
	KeyDebug     = "debug"

	KeyReportInterval = "report-interval"
	KeyWindow         = "window"
	KeyRetain         = "retain"

	KeyAlertPolicy = "alert-policy"
	KeyAlertsFile  = "alerts-file"
	KeyMetricsAddr = "metrics-addr"

	KeyLatencyProbability = "latency-probability"
	KeyMaxLatency         = "max-latency"
)

// EnvPrefix namespaces environment variables
const EnvPrefix = "QOS"

// Transports
const (
	TransportMQTT  = "mqtt"
	TransportRedis = "redis"
)

// Default values for configuration
const (
	// unsetQoS marks sub-qos as not provided
	unsetQoS = -1

	DefaultTransport      = TransportMQTT
	DefaultBroker         = "tcp://127.0.0.1:1883"
	DefaultRedis          = "localhost:6379"
	DefaultTopicRoot      = "qos_testing"
	DefaultReportInterval = 2 * time.Second
	DefaultWindow         = 1000
	DefaultAlertsFile     = "alerts.log"
)

// Help descriptions
const (
	HelpConfigFile         = "Optional YAML config file"
	HelpSubQoS             = "Subscription QoS level 0-2 (required)"
	HelpFile               = "Base path for the state dump, writes <file>.json and <file>_intervals.csv (required)"
	HelpTransport          = "Message source: mqtt or redis"
	HelpBroker             = "MQTT broker URL"
	HelpRedis              = "Redis server address (redis transport)"
	HelpClientID           = "MQTT client id (random when empty)"
	HelpTopicRoot          = "Root of the topic hierarchy; device id is the next segment"
	HelpDebug              = "Verbose development logging"
	HelpReportInterval     = "Interval between status reports"
	HelpWindow             = "Number of trailing intervals used for report statistics"
	HelpRetain             = "Keep only the last N history entries per device, N >= --window (0 keeps everything)"
	HelpAlertPolicy        = "Rego policy file evaluated against device snapshots (rule data.qos.alert)"
	HelpAlertsFile         = "File receiving JSON alert lines"
	HelpMetricsAddr        = "Serve Prometheus metrics on this address (disabled when empty)"
	HelpLatencyProbability = "Probability (0.0-1.0) of injecting latency on broker reads/writes"
	HelpMaxLatency         = "Maximum latency to inject (e.g., 100ms, 1s)"
)
