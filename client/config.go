package client

import (
	"embed"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"pgtikvtest/logging"
)

const (
	ArgConfigFilePath     = "config-file"
	ArgMode               = "mode"
	ArgHost               = "host"
	ArgPort               = "port"
	ArgUser               = "user"
	ArgPassword           = "password"
	ArgServerBinary       = "server-binary"
	ArgVerbose            = "verbose"
	ArgStopOnFirstFailure = "stop-on-first-failure"
	ArgSkipCleanup        = "skip-cleanup"
	ArgGoldenOnly         = "golden-only"
	ArgScenariosOnly      = "scenarios-only"
	ArgTestPaths          = "test-paths"
	defaultConfigFilePath = "defaultConfig.yaml"
)

const (
	ModePlayground = "playground"
	ModeStack      = "stack"
	ModeExternal   = "external"
)

type DefaultConfigPropertyAssigner struct{}

type (
	ConfigPropertyAssigner interface {
		Assign(keyPath string, validate func(string, any) error, assign func(any)) error
	}
	FailedParse struct {
		target  string
		keyPath string
	}
	FailedValueCheck struct {
		reason  string
		keyPath string
	}
)

type (
	fileOpener interface {
		open(string) (io.ReadCloser, error)
	}
	defaultConfigFileOpener      struct{}
	userSuppliedConfigFileOpener struct{}
)

var (
	ErrFailedParseCommandLineArgs        = errors.New("unable to parse commandline-supplied arguments")
	ErrFailedParseDefaultConfigFile      = errors.New("unable to parse default config file")
	ErrFailedParseUserSuppliedConfigFile = errors.New("unable to parse user-supplied config file")
)

var (
	d fileOpener = defaultConfigFileOpener{}
	u fileOpener = userSuppliedConfigFileOpener{}
)

var (
	commandLineArgs map[string]any
	//go:embed defaultConfig.yaml
	defaultConfigFile  embed.FS
	defaultConfig      map[string]any
	userSuppliedConfig map[string]any
	lp                 *logging.LogProvider
)

func init() {
	lp = logging.GetLogProviderInstance(ID())
}

func (o defaultConfigFileOpener) open(path string) (io.ReadCloser, error) {

	if file, err := defaultConfigFile.Open(path); err != nil {
		return nil, err
	} else {
		return file, nil
	}

}

func (o userSuppliedConfigFileOpener) open(path string) (io.ReadCloser, error) {

	if file, err := os.Open(path); err != nil {
		return nil, err
	} else {
		return file, nil
	}

}

func (v FailedParse) Error() string {

	return fmt.Sprintf("%s: failed to parse given value into %s", v.keyPath, v.target)

}

func (v FailedValueCheck) Error() string {

	return fmt.Sprintf("%s: given value failed plausibility check: %s", v.keyPath, v.reason)

}

func ValidateBool(path string, a any) error {

	if _, ok := a.(bool); !ok {
		return FailedParse{"bool", path}
	}

	return nil

}

func ValidateInt(path string, a any) error {

	if i, ok := a.(int); !ok {
		return FailedParse{"int", path}
	} else if i <= 0 {
		return FailedValueCheck{"expected this number to be at least 1", path}
	}

	return nil

}

func ValidateString(path string, a any) error {

	if s, ok := a.(string); !ok {
		return FailedParse{"string", path}
	} else if len(s) == 0 {
		return FailedValueCheck{"expected this string to be non-empty", path}
	}

	return nil

}

func ValidateStringList(path string, a any) error {

	elements, ok := a.([]any)
	if !ok {
		return FailedParse{"list", path}
	}

	for _, e := range elements {
		if _, ok := e.(string); !ok {
			return FailedParse{"list of strings", path}
		}
	}

	return nil

}

// AsStringList converts a yaml-decoded list into a string slice. Must only be
// invoked on values that passed ValidateStringList.
func AsStringList(a any) []string {

	elements := a.([]any)

	result := make([]string, 0, len(elements))
	for _, e := range elements {
		result = append(result, e.(string))
	}

	return result

}

func ParseConfigs() error {

	if args, err := parseCommandLineArgs(os.Args[1:]); err != nil {
		return ErrFailedParseCommandLineArgs
	} else {
		commandLineArgs = args
	}

	if config, err := parseDefaultConfigFile(d); err != nil {
		return ErrFailedParseDefaultConfigFile
	} else {
		defaultConfig = config
	}

	if config, err := parseUserSuppliedConfigFile(u, RetrieveArgValue(ArgConfigFilePath).(string)); err != nil {
		lp.LogConfigEvent("N/A", "config file", err.Error(), log.ErrorLevel)
		return ErrFailedParseUserSuppliedConfigFile
	} else {
		userSuppliedConfig = config
	}

	return nil

}

func RetrieveArgValue(arg string) any {

	return commandLineArgs[arg]

}

func (a DefaultConfigPropertyAssigner) Assign(keyPath string, validate func(string, any) error, assign func(any)) error {

	if value, err := retrieveConfigValue(keyPath); err != nil {
		lp.LogErrUponConfigRetrieval(keyPath, err, log.ErrorLevel)
		return fmt.Errorf("unable to populate config property: could not find value matching key path: %s", keyPath)
	} else {
		if err := validate(keyPath, value); err != nil {
			return err
		}
		assign(value)
	}

	return nil

}

func retrieveConfigValue(keyPath string) (any, error) {

	if value, err := retrieveConfigValueFromMap(userSuppliedConfig, keyPath); err == nil {
		lp.LogConfigEvent(keyPath, "config file", "found value in user-supplied config file", log.TraceLevel)
		return value, nil
	}

	if value, err := retrieveConfigValueFromMap(defaultConfig, keyPath); err == nil {
		lp.LogConfigEvent(keyPath, "config file", "found value in default config file", log.TraceLevel)
		return value, nil
	}

	errMsg := fmt.Sprintf("no map provides value for key '%s'", keyPath)
	lp.LogConfigEvent(keyPath, "config file", errMsg, log.WarnLevel)
	return nil, errors.New(errMsg)

}

func retrieveConfigValueFromMap(m map[string]any, keyPath string) (any, error) {

	if m == nil {
		return nil, fmt.Errorf("given config map was nil -- cannot look up key path '%s' in nil map", keyPath)
	}

	pathElements := strings.Split(keyPath, ".")

	if len(pathElements) == 1 {
		if value, ok := m[keyPath]; ok {
			return value, nil
		} else {
			return nil, fmt.Errorf("nested key '%s' not found in map", keyPath)
		}
	}

	currentPathElement := pathElements[0]
	sourceMap, ok := m[currentPathElement].(map[string]any)

	if !ok {
		return nil, fmt.Errorf("error upon attempt to parse value at '%s' into map for further processing", currentPathElement)
	}

	keyPath = keyPath[strings.Index(keyPath, ".")+1:]

	return retrieveConfigValueFromMap(sourceMap, keyPath)

}

func parseCommandLineArgs(args []string) (map[string]any, error) {

	flagSet := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

	configFilePath := flagSet.String(ArgConfigFilePath, defaultConfigFilePath, "File path of the config file to use. If unprovided, the program will use its embedded default config file.")
	mode := flagSet.String(ArgMode, ModePlayground, "How to obtain the cluster under test: 'playground' spawns a local tiup playground plus the server, 'stack' assumes a pre-provisioned TiKV stack and spawns only the server, 'external' connects to an already-running server.")
	host := flagSet.String(ArgHost, envOrDefault("PG_HOST", "127.0.0.1"), "Host the server-under-test listens on.")
	port := flagSet.Int(ArgPort, envIntOrDefault("PG_PORT", 15433), "Port the server-under-test listens on.")
	user := flagSet.String(ArgUser, envOrDefault("PG_USER", "tenant_a.secret"), "User to connect as, in '<tenant>.<role>' form.")
	password := flagSet.String(ArgPassword, envOrDefault("PG_PASSWORD", "secret"), "Password for the configured user.")
	serverBinary := flagSet.String(ArgServerBinary, "./target/release/pg-tikv", "Path of the server binary to spawn in playground and stack modes.")
	verbose := flagSet.Bool(ArgVerbose, false, "Enables verbose (debug-level) log output.")
	stopOnFirstFailure := flagSet.Bool(ArgStopOnFirstFailure, false, "Stops classifying further test units after the first failure; remaining units are recorded as skipped.")
	skipCleanup := flagSet.Bool(ArgSkipCleanup, false, "Leaves spawned processes running at exit for post-mortem inspection.")
	goldenOnly := flagSet.Bool(ArgGoldenOnly, false, "Runs only the golden test units, skipping the concurrency scenario suite.")
	scenariosOnly := flagSet.Bool(ArgScenariosOnly, false, "Runs only the concurrency scenario suite, ignoring any test paths given.")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}

	if *mode != ModePlayground && *mode != ModeStack && *mode != ModeExternal {
		return nil, fmt.Errorf("unknown mode: '%s'", *mode)
	}

	target := make(map[string]any)
	target[ArgConfigFilePath] = *configFilePath
	target[ArgMode] = *mode
	target[ArgHost] = *host
	target[ArgPort] = *port
	target[ArgUser] = *user
	target[ArgPassword] = *password
	target[ArgServerBinary] = *serverBinary
	target[ArgVerbose] = *verbose
	target[ArgStopOnFirstFailure] = *stopOnFirstFailure
	target[ArgSkipCleanup] = *skipCleanup
	target[ArgGoldenOnly] = *goldenOnly
	target[ArgScenariosOnly] = *scenariosOnly
	target[ArgTestPaths] = flagSet.Args()

	lp.LogConfigEvent("N/A", "command line", fmt.Sprintf("command line arguments parsed: %v", target), log.DebugLevel)

	return target, nil

}

func envOrDefault(key string, fallback string) string {

	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}

	return fallback

}

func envIntOrDefault(key string, fallback int) int {

	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}

	return fallback

}

func parseDefaultConfigFile(o fileOpener) (map[string]any, error) {

	return decodeConfigFile(defaultConfigFilePath, o.open)

}

func parseUserSuppliedConfigFile(o fileOpener, filePath string) (map[string]any, error) {

	if filePath == defaultConfigFilePath {
		lp.LogConfigEvent(ArgConfigFilePath, "command line", "user did not supply custom configuration file", log.DebugLevel)
		return map[string]any{}, nil
	}

	return decodeConfigFile(filePath, o.open)

}

func decodeConfigFile(path string, openFileFunc func(path string) (io.ReadCloser, error)) (map[string]any, error) {

	r, err := openFileFunc(path)

	if err != nil {
		lp.LogIoEvent(fmt.Sprintf("unable to read configuration file '%s': %v", path, err), log.ErrorLevel)
		return nil, err
	}
	defer func(r io.ReadCloser) {
		err := r.Close()
		if err != nil {
			lp.LogIoEvent(fmt.Sprintf("unable to close file '%s'", path), log.WarnLevel)
		}
	}(r)

	target := make(map[string]any)
	if err = yaml.NewDecoder(r).Decode(target); err != nil {
		lp.LogIoEvent(fmt.Sprintf("unable to parse configuration file '%s': %v", path, err), log.ErrorLevel)
		return nil, err
	} else {
		return target, nil
	}

}
