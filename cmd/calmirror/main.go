package main

import (
	"os"

	appLog "calmirror/internal/log"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		appLog.Error("calmirror failed", err)
		os.Exit(1)
	}
}
