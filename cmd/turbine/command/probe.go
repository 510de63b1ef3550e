package command

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"turbine/cmd/turbine/command/client"
)

func newProbeCommand() *cobra.Command {
	var (
		addr    string
		path    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Send one request to a running turbine and print the response status",
		Long: `Probe opens a connection to a running static-handler turbine, sends a single
GET request and reports the status line, content type, body size and latency.
It exits non-zero when the exchange fails or the status is not 2xx.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := client.NewTCPClient(addr, timeout).Probe(path)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", path, result.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "   ├── Content-Type: %s\n", result.ContentType)
			fmt.Fprintf(cmd.OutOrStdout(), "   ├── Body:         %d bytes\n", result.BodyBytes)
			fmt.Fprintf(cmd.OutOrStdout(), "   └── Latency:      %s\n", result.Latency.Round(time.Microsecond))

			if result.StatusCode < 200 || result.StatusCode > 299 {
				return fmt.Errorf("probe %s: unexpected status %s", path, result.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:12345", "turbine address to probe")
	cmd.Flags().StringVar(&path, "path", "/", "request target")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "dial and exchange timeout")
	return cmd
}
