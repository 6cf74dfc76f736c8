// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/multi"
	"github.com/spf13/cobra"
)

var ctx *log.Logger

var logFile *os.File

// setupLogging logs to stdout and, when log-file is set, as JSON to that file
func setupLogging() {
	handlers := []log.Handler{cli.New(os.Stdout)}

	if logFileLocation := config.GetString("log-file"); logFileLocation != "" {
		absLogFileLocation, err := filepath.Abs(logFileLocation)
		if err != nil {
			panic(err)
		}
		logFile, err = os.OpenFile(absLogFileLocation, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
		if err != nil {
			panic(err)
		}
		handlers = append(handlers, json.New(logFile))
	}

	level := log.InfoLevel
	if config.GetBool("debug") {
		level = log.DebugLevel
	}

	ctx = &log.Logger{
		Level:   level,
		Handler: multi.New(handlers...),
	}
}

func closeLogging() {
	if logFile != nil {
		time.Sleep(100 * time.Millisecond)
		logFile.Close()
	}
}

// Execute is called by main.go
func Execute() {
	defer func() {
		if thePanic := recover(); thePanic != nil && ctx != nil {
			buf := make([]byte, 1<<16)
			buf = buf[:runtime.Stack(buf, false)]
			ctx.WithField("panic", thePanic).WithField("stack", string(buf)).Fatal("Stopping because of panic")
		}
	}()

	if err := ClientCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	ClientCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Location of the config file")
	registerFlags(ClientCmd)
}
