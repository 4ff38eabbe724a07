package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/austindbirch/tml_hook/internal/tenant"
)

type provisioner interface {
	Enable(ctx context.Context, tenantID int64, profile tenant.Profile) (tenant.Settings, error)
	Disable(ctx context.Context, tenantID int64) (tenant.Settings, error)
}

// tenantCmd represents the tenant command
var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Enable or disable TML for a tenant",
}

var tenantEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable a tenant and register its store with TML",
	Long: `Enable a tenant. When the tenant was disabled its store is registered
with TML and the returned credentials are saved. A failed registration
leaves the tenant enabled without credentials.

Examples:
  tmlctl tenant enable --tenant 1 --name "My Shop" --url shop.example --email ops@shop.example`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetInt64("tenant")
		p := tenant.Profile{}
		p.StoreName, _ = cmd.Flags().GetString("name")
		p.StoreDomain, _ = cmd.Flags().GetString("url")
		p.StoreEmail, _ = cmd.Flags().GetString("email")
		p.Country, _ = cmd.Flags().GetString("country")
		p.Province, _ = cmd.Flags().GetString("province")
		p.MainLanguage, _ = cmd.Flags().GetString("language")
		p.MainCurrency, _ = cmd.Flags().GetString("currency")
		p.MainTimezone, _ = cmd.Flags().GetString("timezone")
		p.Edition, _ = cmd.Flags().GetString("edition")

		ctx, cancel := commandContext(cmd)
		defer cancel()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		return runEnable(ctx, cmd.OutOrStdout(), a.Provisioner, tenantID, p, outputJSON)
	},
}

var tenantDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable a tenant; credentials are kept",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetInt64("tenant")

		ctx, cancel := commandContext(cmd)
		defer cancel()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		return runDisable(ctx, cmd.OutOrStdout(), a.Provisioner, tenantID, outputJSON)
	},
}

type tenantView struct {
	TenantID       int64  `json:"tenant_id"`
	Enabled        bool   `json:"enabled"`
	ClientID       string `json:"client_id"`
	HasCredentials bool   `json:"has_credentials"`
	StoreName      string `json:"store_name"`
	StoreURL       string `json:"store_url"`
	Error          string `json:"error,omitempty"`
}

func printTenant(w io.Writer, s tenant.Settings, opErr error, asJSON bool) error {
	v := tenantView{
		TenantID:       s.TenantID,
		Enabled:        s.Enabled,
		ClientID:       s.ClientID,
		HasCredentials: s.Credentials().Complete(),
		StoreName:      s.StoreName,
		StoreURL:       s.StoreURL,
	}
	if opErr != nil {
		v.Error = opErr.Error()
	}
	if asJSON {
		return printJSON(w, v)
	}
	fmt.Fprintf(w, "Tenant %d: enabled=%v credentials=%v\n", v.TenantID, v.Enabled, v.HasCredentials)
	if v.ClientID != "" {
		fmt.Fprintf(w, "  Client ID: %s\n", v.ClientID)
	}
	if opErr != nil {
		fmt.Fprintf(w, "  Registration failed: %v\n", opErr)
	}
	return nil
}

func runEnable(ctx context.Context, w io.Writer, p provisioner, tenantID int64, profile tenant.Profile, asJSON bool) error {
	if tenantID <= 0 {
		return errors.New("--tenant is required")
	}
	st, err := p.Enable(ctx, tenantID, profile)
	if err != nil && st.TenantID == 0 {
		return err
	}
	if perr := printTenant(w, st, err, asJSON); perr != nil {
		return perr
	}
	return err
}

func runDisable(ctx context.Context, w io.Writer, p provisioner, tenantID int64, asJSON bool) error {
	if tenantID <= 0 {
		return errors.New("--tenant is required")
	}
	st, err := p.Disable(ctx, tenantID)
	if err != nil {
		return err
	}
	return printTenant(w, st, nil, asJSON)
}

func init() {
	rootCmd.AddCommand(tenantCmd)
	tenantCmd.AddCommand(tenantEnableCmd)
	tenantCmd.AddCommand(tenantDisableCmd)

	for _, c := range []*cobra.Command{tenantEnableCmd, tenantDisableCmd} {
		c.Flags().Int64("tenant", 0, "tenant (website) id")
	}
	tenantEnableCmd.Flags().String("name", "", "store name")
	tenantEnableCmd.Flags().String("url", "", "store domain")
	tenantEnableCmd.Flags().String("email", "", "store contact email")
	tenantEnableCmd.Flags().String("country", "AR", "store country")
	tenantEnableCmd.Flags().String("province", "", "store province")
	tenantEnableCmd.Flags().String("language", "es", "main language")
	tenantEnableCmd.Flags().String("currency", "ARS", "main currency")
	tenantEnableCmd.Flags().String("timezone", "America/Argentina/Buenos_Aires", "main timezone")
	tenantEnableCmd.Flags().String("edition", "", "store platform edition")
}
