package main

import (
	"context"
	"flag"

	"github.com/diwise/service-chassis/pkg/infrastructure/env"
)

type FlagType int
type FlagMap map[FlagType]string

const (
	listenAddress FlagType = iota
	servicePort
	controlPort

	configPath
	opaPath

	logFormat
)

func defaultFlags() FlagMap {
	return FlagMap{
		listenAddress: "",     // listen on all ipv4 and ipv6 interfaces
		servicePort:   "8080", //
		controlPort:   "8000", // metrics and health

		configPath: "/opt/diwise/config/graph-broker.yaml",
		opaPath:    "/opt/diwise/config/authz.rego",

		logFormat: "json",
	}
}

// parseExternalConfig overrides the defaults with environment variables and
// then with any command line flags
func parseExternalConfig(ctx context.Context, flags FlagMap, args []string) (FlagMap, error) {
	apply := func(f FlagType, variable string) {
		flags[f] = env.GetVariableOrDefault(ctx, variable, flags[f])
	}

	apply(listenAddress, "LISTEN_ADDRESS")
	apply(servicePort, "SERVICE_PORT")
	apply(controlPort, "CONTROL_PORT")
	apply(configPath, "GRAPH_BROKER_CONFIG")
	apply(opaPath, "POLICY_FILE")
	apply(logFormat, "LOG_FORMAT")

	fs := flag.NewFlagSet("graph-broker", flag.ContinueOnError)

	stringFlag := func(f FlagType, name, usage string) *string {
		return fs.String(name, flags[f], usage)
	}

	values := map[FlagType]*string{
		listenAddress: stringFlag(listenAddress, "listen", "address to listen on"),
		servicePort:   stringFlag(servicePort, "port", "port of the NGSI-LD api"),
		controlPort:   stringFlag(controlPort, "control", "port for metrics and health, empty to disable"),
		configPath:    stringFlag(configPath, "config", "path to the configuration file"),
		opaPath:       stringFlag(opaPath, "policies", "path to the api access policies"),
		logFormat:     stringFlag(logFormat, "logformat", "json or text"),
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	for f, v := range values {
		flags[f] = *v
	}

	return flags, nil
}
