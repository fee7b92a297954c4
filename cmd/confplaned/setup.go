package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/allaspects/confplane/internal/config"
	"github.com/allaspects/confplane/internal/daemon"
)

func cmdStart(args []string) {
	foreground := false
	for _, a := range args {
		if a == "--foreground" || a == "-f" {
			foreground = true
		}
	}

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := daemon.Run(cfg, foreground); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func cmdStop() {
	if err := daemon.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "error stopping daemon: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("confplaned stopped")
}

func cmdStatus() {
	if err := daemon.Status(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cmdInitConfig writes the default config file. When stdin is a
// terminal and --non-interactive was not passed, it prompts for the
// root directory to watch, following the teacher's setup wizard
// pattern but scoped to this plane's one load-bearing setting.
func cmdInitConfig(args []string) {
	nonInteractive := false
	for _, a := range args {
		if a == "--non-interactive" {
			nonInteractive = true
		}
	}

	if err := config.InitConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "error generating config: %v\n", err)
		os.Exit(1)
	}

	if nonInteractive || !term.IsTerminal(int(os.Stdin.Fd())) {
		return
	}

	fmt.Print("Root directory to watch for segment files (blank to keep default): ")
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	root := strings.TrimSpace(line)
	if root == "" {
		return
	}

	if _, err := config.Load(""); err != nil {
		fmt.Fprintf(os.Stderr, "error reloading config: %v\n", err)
		return
	}
	cfgPath := config.ConfigFilePath()
	if cfgPath == "" {
		return
	}
	cfg := config.Get()
	cfg.Server.RootDirectory = root
	if err := config.ExportConfig(cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "error saving root directory: %v\n", err)
		return
	}
	fmt.Printf("Root directory set to %s\n", root)
}

func cmdInstallService() {
	if err := daemon.InstallService(); err != nil {
		fmt.Fprintf(os.Stderr, "error installing service: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Service installed successfully")
}

func cmdConfigExport(args []string) {
	path := "confplane-export.toml"
	if len(args) > 0 {
		path = args[0]
	}
	config.Load("")
	if err := config.ExportConfig(path); err != nil {
		fmt.Fprintf(os.Stderr, "error exporting config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config exported to %s\n", path)
}

func cmdConfigImport(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: confplaned config-import <file>")
		os.Exit(1)
	}
	if err := config.ImportConfig(args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "error importing config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config imported from %s\n", args[0])
}
