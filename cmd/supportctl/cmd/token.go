package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/libnamic/support-chat/internal/config"
	"github.com/libnamic/support-chat/internal/identity"
)

var (
	tokenConfigFile string
	tokenSubject    string
	tokenEmail      string
	tokenName       string
	tokenRole       string
	tokenTTL        time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Sign a token for local testing",
	Long: `Sign a token with the server's shared secret. The secret and issuer are
read the same way the server reads them: from --config or ./config.yaml, and
from SUPPORT_AUTH_JWT_SECRET / SUPPORT_AUTH_JWT_ISSUER.

In production the shop's login endpoint issues tokens; this command exists
for development and smoke tests.

Examples:
  supportctl token --subject alice --email alice@example.com --name Alice
  supportctl token --subject bob --role operator --ttl 8h`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenSubject == "" {
			return errors.New("--subject is required")
		}
		cfg, err := config.Load(tokenConfigFile)
		if err != nil {
			return err
		}

		var opts []identity.JWTOption
		if cfg.Auth.JWTIssuer != "" {
			opts = append(opts, identity.WithIssuer(cfg.Auth.JWTIssuer))
		}
		auth, err := identity.NewJWTAuthenticator(cfg.Auth.JWTSecret, opts...)
		if err != nil {
			return err
		}

		tok, err := auth.IssueToken(tokenSubject, tokenEmail, tokenName, identity.ParseRole(tokenRole), tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVarP(&tokenConfigFile, "config", "c", "", "server config file")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject (username)")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email claim; becomes the identity and room id")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name claim")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(identity.RoleCustomer), "customer or operator")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
}
