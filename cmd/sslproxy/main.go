// Command sslproxy is the configuration-subsystem entry point: it
// parses a config file plus command-line overrides, optionally dumps
// the result, and (when -admin-addr is set) serves the admin
// introspection surface, grounded on the teacher's cmd/server wiring
// style (gin engine, background goroutines, logrus).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/jaydave/sslproxy-core/internal/config"
	"github.com/jaydave/sslproxy-core/internal/dump"
	"github.com/jaydave/sslproxy-core/internal/monitor"
	"github.com/jaydave/sslproxy-core/internal/sslproxylog"
)

type optionValues []string

func (o *optionValues) String() string { return fmt.Sprint([]string(*o)) }
func (o *optionValues) Set(v string) error {
	*o = append(*o, v)
	return nil
}

func main() {
	var (
		configFile = flag.String("f", "/etc/sslproxy.conf", "configuration file path")
		splitMode  = flag.Bool("n", false, "force split mode (no divert) for every listener")
		dumpFlag   = flag.Bool("D", false, "dump the parsed configuration to stdout and exit")
		adminAddr  = flag.String("admin-addr", "", "address for the admin introspection HTTP/WS server")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
		logDir     = flag.String("log-dir", "", "directory for rotated log files (stderr only if empty)")
	)
	var opts optionValues
	flag.Var(&opts, "o", "override a config directive as KEY=VAL (repeatable)")
	flag.Parse()

	if err := sslproxylog.Init(*logLevel, *logDir); err != nil {
		fmt.Fprintf(os.Stderr, "sslproxy: %v\n", err)
		os.Exit(1)
	}

	g, warnings, err := config.Load(*configFile)
	if err != nil {
		logrus.Fatalf("sslproxy: %v", err)
	}
	for _, w := range warnings {
		logrus.Warn(w.Error())
	}

	g.SplitMode = *splitMode

	for _, kv := range opts {
		if err := config.ApplyCLIOption(g, kv); err != nil {
			logrus.Fatalf("sslproxy: -o %s: %v", kv, err)
		}
	}

	if *adminAddr == "" {
		*adminAddr = g.AdminListenAddr
	}

	if *dumpFlag {
		fmt.Println(dump.Global(g))
		return
	}

	if *adminAddr == "" {
		logrus.Infof("configuration loaded: %d listener(s)", len(g.Listeners))
		return
	}

	hub := monitor.NewHub(g)
	go hub.Run()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	hub.Routes(engine)
	engine.GET("/health", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	logrus.Infof("admin introspection listening on %s", *adminAddr)
	if err := engine.Run(*adminAddr); err != nil {
		logrus.Fatalf("sslproxy: admin server: %v", err)
	}
}
