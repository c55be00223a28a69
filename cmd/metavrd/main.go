// Command metavrd runs one replica of the metadata-server state
// machine: it loads a flat configuration file, restores whatever
// checkpoint is present under its data directory, and drives the
// Viewstamped-Replication protocol against its peers until signaled
// to stop.
package main

import (
	"flag"
	"os"
	"syscall"

	"github.com/kfsvr/metavr/pkg/osutil"
)

func main() {
	var (
		idFlag     = flag.String("id", "", "this node's id, as it appears in the configuration file")
		configFlag = flag.String("config", "", "path to the cluster configuration property file")
		dataDir    = flag.String("data-dir", "", "directory holding this node's checkpoint and log state")
	)
	flag.Parse()

	if *idFlag == "" || *configFlag == "" || *dataDir == "" {
		daemonLogger.Errorf("usage: metavrd -id=<id> -config=<path> -data-dir=<path>")
		os.Exit(2)
	}

	id, err := parseNodeId(*idFlag)
	if err != nil {
		daemonLogger.Errorf("%v", err)
		os.Exit(1)
	}

	config, err := loadConfig(*configFlag)
	if err != nil {
		daemonLogger.Errorf("%v", err)
		os.Exit(1)
	}

	n, err := startNode(id, config, *dataDir)
	if err != nil {
		daemonLogger.Errorf("%v", err)
		os.Exit(1)
	}

	osutil.RegisterInterruptHandler(n.stop)
	osutil.WaitForInterruptSignals(syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	<-n.donec
}
