package util

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/ValentinKolb/dDoc/rpc/transport/http"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (DDOC_<FLAG>)
	EnvPrefix = "ddoc"

	// DefaultConnection is the name of the connection section read from the config file
	DefaultConnection = "mongodb"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and makes viper read DDOC_<FLAG> environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// RPC client configuration
// --------------------------------------------------------------------------

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "transport-endpoints"
	cmd.PersistentFlags().String(key, "http://localhost:8080", WrapString("The address of the dDoc server. Multiple endpoints can be specified as a comma-separated list, requests are balanced round robin"))

	key = "transport-conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 10, WrapString("Idle connections kept open per endpoint"))

	key = "transport-retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to try a request before giving up"))
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		TimeoutSecond:          viper.GetInt("timeout"),
		RetryCount:             viper.GetInt("transport-retries"),
		Endpoints:              strings.Split(viper.GetString("transport-endpoints"), ","),
		ConnectionsPerEndpoint: viper.GetInt("transport-conn-per-endpoint"),
	}
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	return serializer.ByName(viper.GetString("serializer"))
}

// GetTransport creates the client transport
func GetTransport() transport.IRPCClientTransport {
	return http.NewHttpClientTransport()
}

// GetShardID retrieves the configured shard ID
func GetShardID() uint64 {
	return viper.GetUint64("shard")
}

// --------------------------------------------------------------------------
// Database connection configuration
// --------------------------------------------------------------------------

// SetupConnectionFlags adds the flags describing a database connection
func SetupConnectionFlags(cmd *cobra.Command) {
	key := "config"
	cmd.PersistentFlags().String(key, "", WrapString("Optional TOML file with [connections.<name>] sections (url, database, collection and a kwargs table)"))

	key = "connection"
	cmd.PersistentFlags().String(key, DefaultConnection, WrapString("Name of the connection section to read from the config file"))

	key = "url"
	cmd.PersistentFlags().String(key, "", WrapString("Connection url (mongodb://, mongodb+srv:// or memory://), overrides the config file"))

	key = "database"
	cmd.PersistentFlags().String(key, "", WrapString("Database name, overrides the config file"))

	key = "kwargs"
	cmd.PersistentFlags().String(key, "", WrapString("Comma-separated driver options, e.g. retryWrites=true,w=majority,maxIdleTimeMS=180000. Merged with the kwargs of the config file"))
}

// GetConnectionConfig builds the connection config. Values are taken from
// fallback, then the named section of the config file, then the flags; later
// sources win.
func GetConnectionConfig(fallback store.ConnectionConfig) (store.ConnectionConfig, error) {
	conf := fallback

	if path := viper.GetString("config"); path != "" {
		fileConf, err := LoadConnection(path, viper.GetString("connection"))
		if err != nil {
			return store.ConnectionConfig{}, err
		}
		conf = conf.Merge(fileConf)
	}

	kwargs, err := ParseKwargs(viper.GetString("kwargs"))
	if err != nil {
		return store.ConnectionConfig{}, err
	}

	return conf.Merge(store.ConnectionConfig{
		URL:      viper.GetString("url"),
		Database: viper.GetString("database"),
		Kwargs:   kwargs,
	}), nil
}

// LoadConnection reads the [connections.<name>] section of a TOML file:
//
//	[connections.mongodb]
//	url="mongodb+srv://<username>:<password>@<cluster-name>.<cluster-id>.mongodb.net"
//	database="streamlit"
//	collection="connection"
//
//	[connections.mongodb.kwargs]
//	retryWrites=true
//	w="majority"
func LoadConnection(path, name string) (store.ConnectionConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return store.ConnectionConfig{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	section := v.Sub("connections." + name)
	if section == nil {
		return store.ConnectionConfig{}, fmt.Errorf("no section [connections.%s] in %s", name, path)
	}

	var conf store.ConnectionConfig
	if err := section.Unmarshal(&conf); err != nil {
		return store.ConnectionConfig{}, fmt.Errorf("invalid section [connections.%s]: %w", name, err)
	}
	return conf, nil
}

// ParseKwargs parses "k1=v1,k2=v2". Values that look like booleans or
// integers are converted, everything else is kept as string.
func ParseKwargs(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	kwargs := make(map[string]any)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid kwarg %q (expected KEY=VALUE)", pair)
		}
		v = strings.TrimSpace(v)

		if v == "true" || v == "false" {
			kwargs[k] = v == "true"
		} else if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			kwargs[k] = n
		} else {
			kwargs[k] = v
		}
	}
	return kwargs, nil
}
