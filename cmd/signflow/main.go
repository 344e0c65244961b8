/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

package main // import "gopkg.i-core.ru/signflow/cmd/signflow"

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/justinas/nosurf"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gopkg.i-core.ru/signflow/internal/flow"
	"gopkg.i-core.ru/signflow/internal/identity"
	"gopkg.i-core.ru/signflow/internal/logger"
	"gopkg.i-core.ru/signflow/internal/server"
	"gopkg.i-core.ru/signflow/internal/signin"
	"gopkg.i-core.ru/signflow/internal/stat"
	"gopkg.i-core.ru/signflow/internal/web"
)

// Version will be filled at compile time.
var Version = ""

// Config is a server's configuration.
type Config struct {
	DevMode  bool   `envconfig:"dev_mode" default:"false" desc:"a development mode"`
	Listen   string `default:":8080" desc:"a host and port to listen on (<host>:<port>)"`
	Web      web.Config
	Identity identity.Config
	SignIn   signin.Config
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\n")
		if err := envconfig.Usagef("signflow", &Config{}, flag.CommandLine.Output(), envconfig.DefaultListFormat); err != nil {
			panic(err)
		}
	}
	verflag := flag.Bool("version", false, "print a version")
	flag.Parse()

	if *verflag {
		fmt.Println("signflow", Version)
		os.Exit(0)
	}

	var cnf Config
	if err := envconfig.Process("signflow", &cnf); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %s\n", err)
		os.Exit(1)
	}

	logFunc := zap.NewProduction
	if cnf.DevMode {
		logFunc = zap.NewDevelopment
	}
	log, err := logFunc()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %s\n", err)
		os.Exit(1)
	}

	htmlRenderer, err := web.NewHTMLRenderer(cnf.Web)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start the server: %s\n", err)
		os.Exit(1)
	}

	metrics := flow.NewMetrics(prometheus.DefaultRegisterer)
	newClient := func() flow.Client { return identity.NewClient(cnf.Identity) }

	router := server.NewRouter(nosurf.NewPure, logger.RequestLog(log.Sugar()))
	router.AddRoutes(signin.NewHandler(cnf.SignIn, newClient, htmlRenderer, metrics, log.Sugar().Named("flow")), cnf.SignIn.BasePath)
	router.AddRoutes(stat.NewHandler(Version, identity.NewClient(cnf.Identity), prometheus.DefaultGatherer), "/stat")

	log = log.Named("main")
	log.Info("Signflow started", zap.Any("config", cnf), zap.String("version", Version))
	log.Fatal("Signflow finished", zap.Error(http.ListenAndServe(cnf.Listen, router)))
}
