package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/prodline/prodline/internal/log"
	"github.com/prodline/prodline/internal/model"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	userConfigPath string // /default/config/path/prodline on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagBoardsDir      string // value of --boards flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "prodline")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is prodline.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().StringVar(&flagBoardsDir, "boards", "", "Boards directory, overrides the configured one")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initProdline

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("prodline failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "prodline",
	Short:        "Production test execution engine for boards in belt",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run executes every board configuration in the boards directory",
	RunE:  doRun,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "check validates the service configuration and every board file",
	RunE:  doCheck,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "ports lists the communication ports the pool would manage",
	RunE:  doPorts,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "status summarizes the boards and ports a run would pick up",
	RunE:  doStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides version of prodline",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("prodline: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:   %s\n", configPath)
		}
		fmt.Printf("prodline: %s\n", info.Main.Version)
		fmt.Printf("go:       %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:   %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:     %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:    %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initProdline(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("PRODLINECONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "prodline.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		configPath = filepath.Join(userConfigPath, "prodline.yaml")
		err := os.MkdirAll(filepath.Dir(configPath), 0755)
		if err != nil {
			return fmt.Errorf("creating directory %s: %w", filepath.Dir(configPath), err)
		}

		f, err := os.Create(configPath)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", configPath, err)
		}
		defer func() {
			_ = f.Close()
		}()
		enc := yaml.NewEncoder(f)
		if err := enc.Encode(model.DefaultConfig()); err != nil {
			return fmt.Errorf("storing configuration: %w", err)
		}
		config = model.Config{
			BoardsDir:     "boards",
			Pool:          model.PoolConfig{Autodetect: true},
			StatusEvery:   model.DefaultStatusEvery,
			ShutdownGrace: model.DefaultShutdownGrace,
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error(d)
			}
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	// flags have precedence over the config file
	if flagBoardsDir != "" {
		config.BoardsDir = flagBoardsDir
	}
	if flagVerbose {
		config.Verbose = true
	}

	slog.SetDefault(log.New(os.Stderr, config.Verbose))

	slog.Debug("prodline", "configPath", configPath)
	slog.Debug("prodline", "config", config)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
