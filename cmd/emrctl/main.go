// emrctl is a small operator CLI for the EMR API: login, user management,
// care-relationship management and audit review.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var (
	apiBase string
	token   string
)

func main() {
	root := &cobra.Command{
		Use:           "emrctl",
		Short:         "Operator CLI for the EMR API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", envOr("EMR_API_URL", "http://localhost:8080"), "API base URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("EMR_API_TOKEN"), "bearer token")

	root.AddCommand(loginCmd(), usersCmd(), linksCmd(), auditCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange credentials for an access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := call(http.MethodPost, "/v1/auth/login", map[string]string{
				"email":    email,
				"password": password,
			})
			if err != nil {
				return err
			}
			return printJSON(body)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts",
	}

	var (
		email, password, role, patientID string
		scopes                           []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := map[string]any{
				"email":    email,
				"password": password,
				"role":     role,
			}
			if patientID != "" {
				req["patient_id"] = patientID
			}
			if len(scopes) > 0 {
				req["scopes"] = scopes
			}
			body, err := call(http.MethodPost, "/v1/users", req)
			if err != nil {
				return err
			}
			return printJSON(body)
		},
	}
	create.Flags().StringVar(&email, "email", "", "account email")
	create.Flags().StringVar(&password, "password", "", "account password")
	create.Flags().StringVar(&role, "role", "", "role: admin, clinician, nurse, patient or system")
	create.Flags().StringVar(&patientID, "patient-id", "", "patient chart ID, required for patient role")
	create.Flags().StringSliceVar(&scopes, "scope", nil, "extra scope grants")
	create.MarkFlagRequired("email")
	create.MarkFlagRequired("password")
	create.MarkFlagRequired("role")

	deactivate := &cobra.Command{
		Use:   "deactivate <user-id>",
		Short: "Deactivate a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := call(http.MethodDelete, "/v1/users/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}
			fmt.Println("deactivated")
			return nil
		},
	}

	cmd.AddCommand(create, deactivate)
	return cmd
}

func linksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "links",
		Short: "Manage care relationships",
	}
	grant := &cobra.Command{
		Use:   "grant <user-id> <patient-id>",
		Short: "Grant a care relationship",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := call(http.MethodPost, "/v1/users/"+url.PathEscape(args[0])+"/patients/"+url.PathEscape(args[1]), nil)
			if err != nil {
				return err
			}
			fmt.Println("granted")
			return nil
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke <user-id> <patient-id>",
		Short: "Revoke a care relationship",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := call(http.MethodDelete, "/v1/users/"+url.PathEscape(args[0])+"/patients/"+url.PathEscape(args[1]), nil)
			if err != nil {
				return err
			}
			fmt.Println("revoked")
			return nil
		},
	}
	cmd.AddCommand(grant, revoke)
	return cmd
}

func auditCmd() *cobra.Command {
	var (
		principalID, patientID, action string
		limit                          int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List audit records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if principalID != "" {
				q.Set("principal_id", principalID)
			}
			if patientID != "" {
				q.Set("patient_id", patientID)
			}
			if action != "" {
				q.Set("action", action)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := "/v1/audit"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			body, err := call(http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			return printJSON(body)
		},
	}
	cmd.Flags().StringVar(&principalID, "principal", "", "filter by principal ID")
	cmd.Flags().StringVar(&patientID, "patient", "", "filter by patient ID")
	cmd.Flags().StringVar(&action, "action", "", "filter by action")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func call(method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, apiBase+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(data))
	}
	return data, nil
}

func printJSON(body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(out.String())
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
