package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/mailcode/internal/config"
	"github.com/jmerrifield20/mailcode/internal/delivery"
	"github.com/jmerrifield20/mailcode/internal/queue"
	"github.com/jmerrifield20/mailcode/internal/queue/backend"
	"github.com/jmerrifield20/mailcode/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	apiURL  string
	cfgFile string
	timeout time.Duration

	// v holds file, env and flag settings; --api is bound to api_url.
	v = config.New("mailcode")
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mailcode",
	Short: "Email verification code CLI",
	Long: `mailcode talks to a running verifier to request and check email
verification codes, and can publish delivery tasks straight to the queue.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			v.SetConfigFile(cfgFile)
		}
		if _, err := config.ReadFile(v); err != nil {
			return err
		}
		apiURL = v.GetString("api_url")
		return nil
	},
}

func init() {
	v.SetDefault("api_url", "http://localhost:8080")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default configs/mailcode.yaml or ./mailcode.yaml)")
	rootCmd.PersistentFlags().String("api", "", "verifier base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	_ = v.BindPFlag("api_url", rootCmd.PersistentFlags().Lookup("api"))

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	return client.New(apiURL, client.WithTimeout(timeout))
}

// printAPIError unwraps server rejections to their user-facing message.
func printAPIError(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return errors.New(apiErr.Message)
	}
	return err
}

// ── send ─────────────────────────────────────────────────────────────────────

var sendCmd = &cobra.Command{
	Use:   "send <email>",
	Short: "Request a verification code for an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.SendCode(cmd.Context(), args[0]); err != nil {
			return printAPIError(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Verification code sent to %s.\n", args[0])
		return nil
	},
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify <email> <code>",
	Short: "Submit a verification code",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		msg, err := c.VerifyCode(cmd.Context(), args[0], args[1])
		if err != nil {
			return printAPIError(err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	},
}

// ── status ───────────────────────────────────────────────────────────────────

var statusFormat string

var statusCmd = &cobra.Command{
	Use:   "status <email> [email] ...",
	Short: "Show pending and cooldown state for one or more addresses",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "text", "Output format: text or json")
}

type statusRow struct {
	Email  string         `json:"email"`
	Status *client.Status `json:"status,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	rows := make([]statusRow, 0, len(args))
	for _, addr := range args {
		st, err := c.Status(cmd.Context(), addr)
		row := statusRow{Email: addr, Status: st}
		if err != nil {
			row.Error = printAPIError(err).Error()
		}
		rows = append(rows, row)
	}

	out := cmd.OutOrStdout()
	switch strings.ToLower(statusFormat) {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "text":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "EMAIL\tPENDING\tCAN_REQUEST\tERROR")
		for _, r := range rows {
			if r.Status == nil {
				fmt.Fprintf(w, "%s\t\t\t%s\n", r.Email, r.Error)
				continue
			}
			fmt.Fprintf(w, "%s\t%t\t%t\t\n", r.Email, r.Status.HasPendingVerification, r.Status.CanRequestNewCode)
		}
		return w.Flush()
	}
	return fmt.Errorf("unknown format %q (want text or json)", statusFormat)
}

// ── publish ──────────────────────────────────────────────────────────────────

var publishCmd = &cobra.Command{
	Use:   "publish <email> <code>",
	Short: "Publish a delivery task directly to the configured queue",
	Long: `publish bypasses the verifier and hands a task to the broker with the
same retry policy the verifier uses. The code is not recorded anywhere, so
it cannot be verified afterwards; this is for exercising the worker.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromViper(v)
		if err != nil {
			return err
		}
		if cfg.Queue.Backend == config.BackendMemory {
			return errors.New("queue.backend=memory cannot be reached from another process")
		}
		logger, err := cfg.Log.NewLogger()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		be, err := backend.Open(cfg, logger)
		if err != nil {
			return err
		}
		defer be.Close() //nolint:errcheck

		producer := delivery.NewProducer(be.Dialer, queue.TaskQueue(cfg.Queue.Name), delivery.RetryPolicy{
			Attempts: cfg.Delivery.Attempts,
			Delay:    cfg.Delivery.RetryDelay,
		}, logger)

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		task := delivery.NewTask(args[0], args[1], time.Now())
		if err := producer.Publish(ctx, task); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Published: %s\n", task.Line())
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the mailcode CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mailcode %s\n", version)
	},
}
