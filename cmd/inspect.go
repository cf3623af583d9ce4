// cmd/inspect.go
package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/enjoyfamily583-dotcom/newredirect/internal/classify"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/config"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/observability"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/ratelimit"
)

// inspectReport is the JSON shape printed by the inspect command.
type inspectReport struct {
	IP        string   `json:"ip"`
	UserAgent string   `json:"userAgent"`
	Requests  int      `json:"requests"`
	Score     int      `json:"score"`
	Signals   []string `json:"signals"`
	HardBlock bool     `json:"hardBlock"`
}

func newInspectCmd() *cobra.Command {
	var (
		userAgent      string
		ip             string
		acceptLanguage string
		acceptEncoding string
		repeat         int
	)

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Classify a fabricated request without serving",
		Long:  `Runs the server-side classifier against a synthetic request assembled from flags and prints the resulting score record as JSON. Useful for checking how a user agent string or header set scores before it hits the live gate.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if repeat < 1 {
				return fmt.Errorf("--repeat must be at least 1")
			}

			logger := observability.GetLogger()

			// Get the configuration initialized by the root command.
			cfg := config.Get()

			// A fresh limiter per invocation; the point of --repeat is to
			// watch the rate signal fire, not to share state with a server.
			limiter := ratelimit.New(cfg.Limiter.Window, cfg.Limiter.SweepChance, logger)
			classifier := classify.New(limiter, cfg.Gate.RateCeiling, logger)

			header := http.Header{}
			if acceptLanguage != "" {
				header.Set("Accept-Language", acceptLanguage)
			}
			if acceptEncoding != "" {
				header.Set("Accept-Encoding", acceptEncoding)
			}

			req := classify.Request{UserAgent: userAgent, IP: ip, Header: header}

			var result classify.Result
			for i := 0; i < repeat; i++ {
				result = classifier.Inspect(req)
			}

			report := inspectReport{
				IP:        ip,
				UserAgent: userAgent,
				Requests:  repeat,
				Score:     result.Score.Total(),
				Signals:   result.Score.Names(),
				HardBlock: result.HardBlock,
			}

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				logger.Error("Failed to serialize inspection report", zap.Error(err))
				return fmt.Errorf("failed to serialize inspection report: %w", err)
			}

			// Print the report to standard output.
			fmt.Println(string(out))

			return nil
		},
	}

	inspectCmd.Flags().StringVar(&userAgent, "ua", "", "The User-Agent string to classify (required)")
	inspectCmd.Flags().StringVar(&ip, "ip", "198.51.100.7", "Source IP to attribute the request to")
	inspectCmd.Flags().StringVar(&acceptLanguage, "accept-language", "", "Accept-Language header value, empty to omit")
	inspectCmd.Flags().StringVar(&acceptEncoding, "accept-encoding", "", "Accept-Encoding header value, empty to omit")
	inspectCmd.Flags().IntVar(&repeat, "repeat", 1, "Submit the request this many times to exercise the rate signal")
	_ = inspectCmd.MarkFlagRequired("ua")

	return inspectCmd
}
