package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"pgtikvtest/api"
	"pgtikvtest/client"
	"pgtikvtest/cluster"
	"pgtikvtest/golden"
	"pgtikvtest/logging"
	"pgtikvtest/orchestrator"
	"pgtikvtest/scenarios"
	"pgtikvtest/sqlclient"
	"pgtikvtest/status"
)

func main() {

	lp := logging.GetLogProviderInstance(client.ID())

	if err := client.ParseConfigs(); err != nil {
		lp.LogConfigEvent("N/A", "startup", fmt.Sprintf("unable to parse configuration: %v", err), log.ErrorLevel)
		os.Exit(1)
	}

	if client.RetrieveArgValue(client.ArgVerbose).(bool) {
		logging.EnableVerboseLogging()
	}

	assigner := client.DefaultConfigPropertyAssigner{}

	clusterConfig, err := cluster.PopulateConfig(assigner)
	if err != nil {
		lp.LogConfigEvent("N/A", "config file", fmt.Sprintf("unable to populate cluster config: %v", err), log.ErrorLevel)
		os.Exit(1)
	}
	clusterConfig.Mode = client.RetrieveArgValue(client.ArgMode).(string)
	clusterConfig.Host = client.RetrieveArgValue(client.ArgHost).(string)
	clusterConfig.Port = client.RetrieveArgValue(client.ArgPort).(int)
	clusterConfig.ServerBinary = client.RetrieveArgValue(client.ArgServerBinary).(string)
	clusterConfig.Password = client.RetrieveArgValue(client.ArgPassword).(string)

	sqlConfig, err := sqlclient.PopulateConfig(assigner)
	if err != nil {
		lp.LogConfigEvent("N/A", "config file", fmt.Sprintf("unable to populate sql client config: %v", err), log.ErrorLevel)
		os.Exit(1)
	}
	sqlConfig.Host = clusterConfig.Host
	sqlConfig.Port = clusterConfig.Port

	goldenConfig, err := golden.PopulateConfig(assigner)
	if err != nil {
		lp.LogConfigEvent("N/A", "config file", fmt.Sprintf("unable to populate golden test config: %v", err), log.ErrorLevel)
		os.Exit(1)
	}

	scenarioConfig, err := scenarios.PopulateConfig(assigner)
	if err != nil {
		lp.LogConfigEvent("N/A", "config file", fmt.Sprintf("unable to populate scenario config: %v", err), log.ErrorLevel)
		os.Exit(1)
	}

	creds := sqlclient.Credentials{
		User:     client.RetrieveArgValue(client.ArgUser).(string),
		Password: client.RetrieveArgValue(client.ArgPassword).(string),
	}

	supervisor := cluster.NewSupervisor(clusterConfig)
	commandClient := sqlclient.NewCommandClient(sqlConfig, supervisor)
	classifier := golden.NewClassifier(goldenConfig, commandClient, creds, clusterConfig.Host, clusterConfig.Port)
	suite := scenarios.NewSuite(scenarioConfig, commandClient, creds)

	gatherer := status.NewGatherer()
	go gatherer.Listen()
	api.Expose(gatherer)

	o := orchestrator.New(&orchestrator.Config{
		StopOnFirstFailure: client.RetrieveArgValue(client.ArgStopOnFirstFailure).(bool),
		SkipCleanup:        client.RetrieveArgValue(client.ArgSkipCleanup).(bool),
		GoldenOnly:         client.RetrieveArgValue(client.ArgGoldenOnly).(bool),
		ScenariosOnly:      client.RetrieveArgValue(client.ArgScenariosOnly).(bool),
		TestPaths:          client.RetrieveArgValue(client.ArgTestPaths).([]string),
	}, supervisor, classifier, suite, gatherer)

	exitCode := o.Run()

	gatherer.StopListen()

	os.Exit(exitCode)

}
