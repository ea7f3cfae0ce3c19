package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tasksync/internal/auth"
)

func loginCmd(e *env) *cobra.Command {
	var (
		email    string
		password string
		secret   string
		remote   bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in as an admin (--email/--password) or a member (--secret)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				sess auth.Session
				err  error
			)
			switch {
			case secret != "":
				if remote {
					if e.cfg.Server.BaseURL == "" {
						return fmt.Errorf("--remote needs server.base_url in config")
					}
					e.auth.WithMemberLogin(auth.NewRemoteMemberLogin(e.cfg.Server.BaseURL))
				}
				sess, err = e.auth.SignInMember(ctx, secret)
			case email != "":
				sess, err = e.auth.SignIn(ctx, email, password)
			default:
				return fmt.Errorf("either --secret or --email is required")
			}
			if err != nil {
				return err
			}
			if err := saveToken(sess.Token); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			fmt.Printf("Signed in as %s (%s)\n", sess.Identity.Name, sess.Identity.Role)
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Admin email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Admin password")
	cmd.Flags().StringVarP(&secret, "secret", "s", "", "Member secret number")
	cmd.Flags().BoolVar(&remote, "remote", false, "Resolve the secret number through the api server")

	return cmd
}

func signupCmd(e *env) *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Register a new admin and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := e.auth.SignUp(cmd.Context(), name, email, password)
			if err != nil {
				return err
			}
			if err := saveToken(sess.Token); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			fmt.Printf("Registered and signed in as %s\n", sess.Identity.Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name")
	cmd.Flags().StringVarP(&email, "email", "e", "", "Email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func logoutCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			e.auth.SignOut()
			if err := clearToken(); err != nil {
				return err
			}
			fmt.Println("Signed out")
			return nil
		},
	}
}

func whoamiCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := e.identity(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\t%s\n", id.ID, id.Name, id.Role)
			return nil
		},
	}
}
