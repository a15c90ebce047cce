package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/RobertWHurst/notus"
	"github.com/RobertWHurst/notus/timekeeping"
	"github.com/RobertWHurst/notus/transport/nettransport"
	"github.com/spf13/cobra"
)

var (
	token     string
	userAgent string
)

// rootCmd connects to the Discord gateway and echoes diagnostic
// messages until interrupted.
var rootCmd = &cobra.Command{
	Use:   "notus-tap",
	Short: "Connect to the Discord gateway and print diagnostics",
	Long: `notus-tap opens a gateway connection with the given token and prints
every diagnostic message the client produces. It stays connected,
heartbeating, until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTap()
	},
}

func runTap() error {
	if token == "" {
		token = os.Getenv("DISCORD_TOKEN")
	}
	if token == "" {
		return fmt.Errorf("no token given: use --token or DISCORD_TOKEN")
	}

	gateway := notus.NewGateway()
	gateway.RegisterDiagnosticMessageCallback(func(level uint, message string) {
		fmt.Printf("[%2d] %s\n", level, message)
	})
	gateway.RegisterCloseCallback(func() {
		fmt.Println("connection closed")
	})

	scheduler := timekeeping.New(timekeeping.SystemClock{})
	defer scheduler.Stop()
	gateway.SetScheduler(scheduler)

	connected := gateway.Connect(nettransport.New(), notus.Configuration{
		Token:     token,
		OS:        runtime.GOOS,
		Browser:   "notus",
		Device:    "notus",
		UserAgent: userAgent,
	})
	if !<-connected {
		return fmt.Errorf("could not connect to the Discord gateway")
	}

	interrupted := make(chan os.Signal, 1)
	signal.Notify(interrupted, os.Interrupt, syscall.SIGTERM)
	<-interrupted

	gateway.Disconnect()
	return nil
}

func main() {
	rootCmd.Flags().StringVar(&token, "token", "", "Discord bot token (falls back to DISCORD_TOKEN)")
	rootCmd.Flags().StringVar(&userAgent, "user-agent", "notus-tap", "User-Agent sent on the discovery request")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
