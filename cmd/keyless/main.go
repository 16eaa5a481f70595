package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	keyless "github.com/keyless-sdk/keyless-go"
	"github.com/keyless-sdk/keyless-go/config"
	"github.com/keyless-sdk/keyless-go/flow"
	"github.com/keyless-sdk/keyless-go/redirect"
)

// Version information (set via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Global flags
var (
	configFile string
	logLevel   string
	logFormat  string
	seedID     string
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
	ExitConfig  = 3
)

var rootCmd = &cobra.Command{
	Use:   "keyless",
	Short: "Passwordless authentication flow runner",
	Long: `Drives a server-orchestrated passwordless authentication flow from
the terminal.

The server decides each step: collecting a login identifier, prompting
for a passkey, verifying a one-time code, or handing off to a browser.
This tool renders those steps as terminal prompts and runs a loopback
callback server for the browser hand-off.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Run a login flow",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFlow(flow.Login)
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Run a registration flow",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFlow(flow.Register)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Run:   runVersion,
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate configuration file",
	RunE:  runCheckConfig,
}

// overrideExitCode is set by subcommands so main() can call os.Exit()
// after cobra finishes, keeping deferred functions intact.
var overrideExitCode = -1

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "keyless.yaml",
		"Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error) - overrides config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format (json, text) - overrides config file")

	loginCmd.Flags().StringVar(&seedID, "login-id", "", "Identifier to start the flow with")
	registerCmd.Flags().StringVar(&seedID, "login-id", "", "Identifier to start the flow with")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}
	if overrideExitCode >= 0 {
		os.Exit(overrideExitCode)
	}
}

func runFlow(flowType flow.Type) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	config.SetupLogging(&cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Without a configured redirection URI, serve one on the loopback
	// interface for the browser hand-off.
	var callbackSrv *redirect.Server
	if cfg.Redirect.URI == "" {
		callbackSrv, err = redirect.NewServer(cfg.Redirect.Listen)
		if err != nil {
			return err
		}
		cfg.Redirect.URI = callbackSrv.URI()
		go func() {
			if err := callbackSrv.Start(); err != nil {
				slog.Error("callback server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			callbackSrv.Shutdown(shutdownCtx)
		}()
	}

	client, err := keyless.New(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	handle, err := client.StartFlow(ctx, flowType, seedID)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		handle.Cancel()
		if callbackSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			callbackSrv.Shutdown(shutdownCtx)
		}
	}()

	stdin := bufio.NewScanner(os.Stdin)
	for prompt := range handle.Prompts() {
		switch p := prompt.(type) {
		case *flow.IDCollectPrompt:
			answerIDCollect(stdin, p)
		case *flow.OTPPrompt:
			answerOTP(stdin, p)
		case *flow.WebAppPrompt:
			answerWebApp(stdin, p, callbackSrv)
		}
	}

	resp, err := handle.Result(context.Background())
	if err != nil {
		var cancelled *flow.CancelledError
		if errors.As(err, &cancelled) {
			fmt.Println("Flow cancelled.")
			return nil
		}
		var userErr *flow.UserError
		if errors.As(err, &userErr) {
			fmt.Fprintf(os.Stderr, "%s\n", userErr.UserMessage)
		}
		return err
	}

	fmt.Printf("Authenticated as %s via %s (%s payload)\n",
		resp.LoginID, resp.AuthType, resp.Payload.Type)
	if resp.AuthToken != "" {
		fmt.Printf("Auth token: %s\n", resp.AuthToken)
	}
	return nil
}

func answerIDCollect(stdin *bufio.Scanner, p *flow.IDCollectPrompt) {
	if p.Err != nil {
		fmt.Fprintf(os.Stderr, "Try again: %v\n", p.Err)
	}
	dialCode := ""
	if len(p.PhoneCodes) > 0 {
		fmt.Printf("Dial code [%s]: ", p.PhoneCodes[0].DialCode)
		if stdin.Scan() {
			dialCode = strings.TrimSpace(stdin.Text())
		}
		if dialCode == "" {
			dialCode = p.PhoneCodes[0].DialCode
		}
	}
	fmt.Printf("Enter your %s: ", p.Type)
	if !stdin.Scan() {
		p.Cancel()
		return
	}
	p.Submit(strings.TrimSpace(stdin.Text()), dialCode)
}

func answerOTP(stdin *bufio.Scanner, p *flow.OTPPrompt) {
	if p.Err != nil {
		if p.WrongCode {
			fmt.Fprintln(os.Stderr, "Wrong code, try again.")
		} else {
			fmt.Fprintf(os.Stderr, "Try again: %v\n", p.Err)
		}
	}
	fmt.Printf("Enter the %d-digit code sent via %s (or 'resend' / 'notyou'): ", p.Length, p.Channel)
	if !stdin.Scan() {
		p.Cancel()
		return
	}
	switch input := strings.TrimSpace(stdin.Text()); input {
	case "resend":
		p.Resend()
	case "notyou":
		p.NotYou()
	case "":
		p.Cancel()
	default:
		p.Enter(input)
	}
}

func answerWebApp(stdin *bufio.Scanner, p *flow.WebAppPrompt, srv *redirect.Server) {
	fmt.Printf("Open this URL in your browser:\n\n  %s\n\n", p.LaunchURL)
	if srv != nil {
		fmt.Println("Waiting for the browser to return...")
		callback, ok := <-srv.Callbacks()
		if !ok {
			p.Dismiss()
			return
		}
		p.Complete(callback)
		return
	}
	fmt.Print("Paste the callback URL (empty to abort): ")
	if !stdin.Scan() {
		p.Dismiss()
		return
	}
	input := strings.TrimSpace(stdin.Text())
	if input == "" {
		p.Dismiss()
		return
	}
	p.Complete(input)
}

// runVersion displays version information
func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("keyless version %s\n", version)
	fmt.Printf("  Commit:     %s\n", commit)
	fmt.Printf("  Build date: %s\n", buildDate)
	fmt.Printf("  Go version: %s\n", runtime.Version())
}

// runCheckConfig validates the configuration
func runCheckConfig(cmd *cobra.Command, args []string) error {
	fmt.Printf("Checking configuration: %s\n\n", configFile)

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation failed:\n   %v\n", err)
		overrideExitCode = ExitConfig
		return nil
	}

	fmt.Println("Configuration is valid")
	fmt.Println()
	fmt.Println("Configuration summary:")
	fmt.Printf("  App ID:        %s\n", cfg.App.ID)
	fmt.Printf("  Environment:   %s\n", cfg.App.Env)
	fmt.Printf("  Server URL:    %s\n", cfg.ServerURL())
	fmt.Printf("  Locale URL:    %s\n", cfg.LocaleURL())
	fmt.Printf("  Redirect URI:  %s\n", cfg.Redirect.URI)
	fmt.Printf("  Store backend: %s\n", cfg.Store.Backend)
	fmt.Printf("  Log Level:     %s\n", cfg.Log.Level)
	fmt.Printf("  Log Format:    %s\n", cfg.Log.Format)

	return nil
}
