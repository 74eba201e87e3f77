package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/GriffinCanCode/webviewrpc/internal/coordinator"
	"github.com/GriffinCanCode/webviewrpc/internal/infrastructure/server"
	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Register a script in a page and print one request's result",
	Long: `Load --src into a fresh context, evaluate --script there and request
--method on the object it returns. The result is printed as JSON.
Calls the object makes back to the host are printed to stderr.
Example: webviewrpc eval --src file:///tmp/page.html --script-file detect.js --method detect --args '["en"]'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		src, _ := cmd.Flags().GetString("src")
		script, _ := cmd.Flags().GetString("script")
		scriptFile, _ := cmd.Flags().GetString("script-file")
		method, _ := cmd.Flags().GetString("method")
		rawArgs, _ := cmd.Flags().GetString("args")
		poolKey, _ := cmd.Flags().GetString("pool-key")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		hostMethods, _ := cmd.Flags().GetStringSlice("host-method")

		if scriptFile != "" {
			data, err := os.ReadFile(scriptFile)
			if err != nil {
				return fmt.Errorf("failed to read script: %w", err)
			}
			script = string(data)
		}

		var callArgs []any
		if rawArgs != "" {
			if err := sonic.UnmarshalString(rawArgs, &callArgs); err != nil {
				return fmt.Errorf("--args must be a JSON array: %w", err)
			}
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := server.NewLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		coord := server.NewCoordinator(cfg, logger)
		defer coord.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		proxy := &echoProxy{Proxy: coordinator.NewProxy("eval"), out: cmd.ErrOrStderr()}
		proxy.handle(hostMethods...)

		result, err := evaluate(ctx, coord, proxy.Proxy, logger.Named("eval"), poolKey, src, script, method, callArgs)
		if err != nil {
			return err
		}

		data, err := sonic.ConfigStd.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

// evaluate registers script for proxy and requests method once
func evaluate(ctx context.Context, coord *coordinator.Coordinator, proxy *coordinator.Proxy, logger *zap.Logger, poolKey, src, script, method string, args []any) (any, error) {
	regID, err := coord.Register(proxy, poolKey, src, script).Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("registration failed: %w", err)
	}
	defer coord.Unregister(proxy)
	logger.Debug("Registered", zap.Stringer("registration_id", regID), zap.String("src", src))

	result, err := coord.Request(regID, method, args...).Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("request %s failed: %w", method, err)
	}
	return result, nil
}

// echoProxy answers host methods by printing each call
type echoProxy struct {
	*coordinator.Proxy
	out io.Writer
}

func (p *echoProxy) handle(methods ...string) {
	for _, m := range methods {
		method := m
		p.Handle(method, func(ctx context.Context, args []any) (any, error) {
			data, _ := sonic.MarshalString(args)
			fmt.Fprintf(p.out, "host call %s %s\n", method, data)
			return nil, nil
		})
	}
}

func init() {
	rootCmd.AddCommand(evalCmd)

	evalCmd.Flags().String("src", "", "Locator of the page to load (http, https, file or asar)")
	evalCmd.Flags().String("script", "", "Registration script")
	evalCmd.Flags().String("script-file", "", "Read the registration script from a file")
	evalCmd.Flags().String("method", "", "Remote method to request")
	evalCmd.Flags().String("args", "", "JSON array of request arguments")
	evalCmd.Flags().StringSlice("host-method", nil, "Host methods the remote object may call")
	evalCmd.Flags().String("pool-key", "eval", "Pool key of the context")
	evalCmd.Flags().Duration("timeout", 30*time.Second, "Overall timeout")

	_ = evalCmd.MarkFlagRequired("src")
	_ = evalCmd.MarkFlagRequired("method")
	evalCmd.MarkFlagsOneRequired("script", "script-file")
}
