package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidahmann/charter/internal/attest"
)

const defaultAddr = "http://localhost:8080"

func newAttestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Work with GitTruth attestation records",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <attestation.json|->",
		Short: "Check an attestation record's shape and echo the attested values",
		Args:  exactArgs(1, "<attestation.json|->"),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			v := attest.Verify(raw)
			if err := writeJSON(cmd.OutOrStdout(), v); err != nil {
				return err
			}
			if !v.OK {
				return failedError{"attestation invalid"}
			}
			return nil
		},
	})
	return cmd
}

type gatewayFlags struct {
	addr  string
	token string
}

func (g *gatewayFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&g.addr, "addr", envOrDefault("CHARTER_ADDR", defaultAddr), "charter gateway address")
	cmd.PersistentFlags().StringVar(&g.token, "token", envOrDefault("CHARTER_TOKEN", ""), "bearer token")
}

func (g *gatewayFlags) get(path string) ([]byte, int, error) {
	return httpGet(http.DefaultClient, strings.TrimRight(g.addr, "/")+path, g.token)
}

func newReceiptCmd() *cobra.Command {
	var g gatewayFlags
	cmd := &cobra.Command{
		Use:   "receipt",
		Short: "Fetch and verify receipts held by a charter gateway",
	}
	g.register(cmd)

	var jsonOut bool
	verify := &cobra.Command{
		Use:   "verify <receipt_id>",
		Short: "Verify a receipt and the chain behind it",
		Args:  exactArgs(1, "<receipt_id>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			respBody, status, err := g.get("/v1/receipts/" + url.PathEscape(args[0]) + "/verify")
			if err != nil {
				return err
			}
			if jsonOut {
				_, err := cmd.OutOrStdout().Write(respBody)
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("verify failed: %s", strings.TrimSpace(string(respBody)))
			}

			var payload struct {
				ReceiptID   string `json:"receipt_id"`
				Valid       bool   `json:"valid"`
				ChainLength int    `json:"chain_length"`
				Error       string `json:"error,omitempty"`
			}
			if err := json.Unmarshal(respBody, &payload); err != nil {
				return fmt.Errorf("invalid response: %w", err)
			}
			if payload.Valid {
				fmt.Fprintf(cmd.OutOrStdout(), "%s receipt_id=%s chain_length=%d\n", okFmt("valid=true"), payload.ReceiptID, payload.ChainLength)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s receipt_id=%s error=%s\n", failFmt("valid=false"), payload.ReceiptID, payload.Error)
			return failedError{"receipt invalid"}
		},
	}
	verify.Flags().BoolVar(&jsonOut, "json", false, "print raw JSON response")

	var outPath string
	get := &cobra.Command{
		Use:   "get <receipt_id>",
		Short: "Print a stored receipt",
		Args:  exactArgs(1, "<receipt_id>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			respBody, status, err := g.get("/v1/receipts/" + url.PathEscape(args[0]))
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("get failed: %s", strings.TrimSpace(string(respBody)))
			}
			if outPath == "" {
				_, err := cmd.OutOrStdout().Write(respBody)
				return err
			}
			if err := os.WriteFile(outPath, respBody, 0o600); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", outPath)
			return nil
		},
	}
	get.Flags().StringVar(&outPath, "out", "", "write the receipt to a file")

	cmd.AddCommand(verify, get)
	return cmd
}

func httpGet(client *http.Client, target string, token string) ([]byte, int, error) {
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
