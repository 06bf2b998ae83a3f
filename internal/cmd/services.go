package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/meshgate/meshgate/internal/errors"
	"github.com/meshgate/meshgate/internal/output"
)

var (
	gatewayURL     string
	servicesFormat string
)

// servicesResponse mirrors the gateway's GET /services body.
type servicesResponse struct {
	Services map[string]struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		Health  string `json:"health"`
	} `json:"services"`
	Count int `json:"count"`
}

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "Show health of services registered with a running gateway",
	Long: `Query a running gateway's /services endpoint and render the live
health of every registered backend service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(servicesFormat)
		if err != nil {
			return err
		}

		client := &http.Client{Timeout: 10 * time.Second}
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, gatewayURL+"/services", nil)
		if err != nil {
			return apperrors.WrapInternal(cmd.Context(), err, "building gateway request failed")
		}

		resp, err := client.Do(req)
		if err != nil {
			return apperrors.WrapServiceUnavailable(cmd.Context(), err, "gateway unreachable at "+gatewayURL)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return apperrors.NewServiceUnavailableError(
				fmt.Sprintf("gateway returned status %d", resp.StatusCode))
		}

		var body servicesResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return apperrors.WrapInternal(cmd.Context(), err, "decoding gateway response failed")
		}

		rows := make([]output.ServiceRow, 0, len(body.Services))
		for id, svc := range body.Services {
			rows = append(rows, output.ServiceRow{
				ID:      id,
				Name:    svc.Name,
				Version: svc.Version,
				Health:  svc.Health,
			})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

		rendered, err := output.NewFormatter(format).FormatServices(rows)
		if err != nil {
			return err
		}
		fmt.Println(rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(servicesCmd)

	servicesCmd.Flags().StringVar(&gatewayURL, "gateway-url", "http://localhost:8080", "base URL of the running gateway")
	servicesCmd.Flags().StringVarP(&servicesFormat, "output", "o", "table", "output format: table, json, markdown")
}
