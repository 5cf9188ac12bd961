package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	feed "github.com/planetarium/ncfeed/pkg"
)

func main() {
	var configPath string
	var config feed.Config
	var remote SubCommandArgs

	// define root command
	rootCmd := &cobra.Command{
		Use: "ncfeed",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
			os.Exit(0)
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			conf, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			applyFlags(&conf)
			if err := conf.Validate(); err != nil {
				return err
			}
			config = conf
			setUpLog(config)
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $NCFEED_ENV or ./config.toml)")
	rootCmd.PersistentFlags().String("webapi-port", "", "Public API port")
	rootCmd.PersistentFlags().String("webapi-bind", "", "Public API bind address")
	rootCmd.PersistentFlags().String("admin-port", "", "Admin API port")
	rootCmd.PersistentFlags().String("store-driver", "", "Store driver (sqlite | postgres)")
	rootCmd.PersistentFlags().String("store-dsn", "", "Store DSN or SQLite file")
	rootCmd.PersistentFlags().String("zmq-address", "", "Node render feed address")
	rootCmd.PersistentFlags().Int("workers", 0, "Max concurrent state projections")
	rootCmd.PersistentFlags().StringVar(&remote.RemoteAdminServer, "remote-admin-server", "", "Admin API base URL for client commands")
	// Bind flags so NCFEED_* env vars can override them too
	viper.SetEnvPrefix("NCFEED")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.BindPFlags(rootCmd.PersistentFlags())

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the feed server",
		Run: func(cmd *cobra.Command, args []string) {
			if err := Server(config); err != nil {
				log.Println("Server:", err)
				os.Exit(1)
			}
		},
	}

	configCmd := &cobra.Command{
		Use:   "showconf",
		Short: "Print the config state and exit",
		Run: func(cmd *cobra.Command, args []string) {
			o, _ := json.MarshalIndent(config, ">", " ")
			fmt.Println(string(o))
			os.Exit(0)
		},
	}

	var notifyType, notifyReceiver string
	notifyCmd := &cobra.Command{
		Use:   "notify [message]",
		Short: "Broadcast a notification through a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return Notify(config, remote, feed.Notification{
				Type:     feed.NotificationType(notifyType),
				Receiver: feed.Address(notifyReceiver),
				Message:  args[0],
			})
		},
	}
	notifyCmd.Flags().StringVar(&notifyType, "type", string(feed.NotifyOperator), "Notification type")
	notifyCmd.Flags().StringVar(&notifyReceiver, "receiver", "", "Agent address the notification is about")

	registryCmd := &cobra.Command{
		Use:   "registry",
		Short: "Print the subscriber registry of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ShowRegistry(config, remote)
		},
	}

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(registryCmd)

	// Execute the Cobra command
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// LoadConfig reads the config file if one is found; defaults and
// NCFEED_* env vars apply either way.
func LoadConfig(configPath string) (feed.Config, error) {
	if configPath == "" {
		if name, set := os.LookupEnv("NCFEED_ENV"); set {
			configPath = name + ".toml"
		} else {
			configPath = "config.toml"
		}
		if _, err := os.Stat(configPath); err != nil {
			return feed.LoadConfig()
		}
	}
	return feed.LoadConfig(configPath)
}

// applyFlags copies flags that were set on the command line (or via env)
// over the loaded config.
func applyFlags(c *feed.Config) {
	if viper.IsSet("webapi-port") {
		c.WebAPI.Port = viper.GetString("webapi-port")
	}
	if viper.IsSet("webapi-bind") {
		c.WebAPI.Bind = viper.GetString("webapi-bind")
	}
	if viper.IsSet("admin-port") {
		c.WebAPI.AdminPort = viper.GetString("admin-port")
	}
	if viper.IsSet("store-driver") {
		c.Store.Driver = viper.GetString("store-driver")
	}
	if viper.IsSet("store-dsn") {
		c.Store.DSN = viper.GetString("store-dsn")
	}
	if viper.IsSet("zmq-address") {
		c.Node.ZMQAddress = viper.GetString("zmq-address")
	}
	if viper.IsSet("workers") {
		c.Dispatch.Workers = viper.GetInt("workers")
	}
}

func setUpLog(c feed.Config) {
	if c.Log.Path == "" {
		return
	}
	log.SetOutput(&lumberjack.Logger{
		Filename: c.Log.Path,
		MaxSize:  c.Log.MaxSizeMB,
		Compress: true,
	})
}
