package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard guides the user through first-time configuration.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	return runSetup(cfg, reader, out)
}

func runSetup(cfg *Config, reader *bufio.Reader, out io.Writer) error {
	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║           uolink - First Run Setup           ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	login := cfg.GetLogin()

	fmt.Fprintln(out, "── Login Server ──")
	login.IP = promptString(reader, out, "Login server address", login.IP)
	login.Port = promptInt(reader, out, "Login server port", login.Port)
	login.ClientVersion = promptString(reader, out, "Client version", login.ClientVersion)
	login.Encryption = promptBool(reader, out, "Encrypt traffic", login.Encryption)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Account ──")
	login.Username = promptString(reader, out, "Account name", login.Username)
	password := promptPassword(reader, out, "Password (blank to ask on connect)")
	if password != "" && promptBool(reader, out, "Store password in config file", false) {
		login.Password = password
	} else {
		cfg.SetPasswordOverride(password)
	}
	login.AutoLogin = promptBool(reader, out, "Select the last server automatically", login.AutoLogin)
	cfg.SetLogin(login)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Reconnect ──")
	reconnect := promptBool(reader, out, "Reconnect after connection loss", cfg.GetReconnect().Enabled)
	if err := cfg.UpdateField("reconnect", "enabled", reconnect); err != nil {
		return err
	}

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		retry := promptString(reader, out, "Would you like to try again? (yes/no)", "no")
		if strings.ToLower(retry) == "yes" {
			return runSetup(cfg, reader, out)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "✓ Configuration saved.")
	fmt.Fprintln(out)
	return nil
}

func readLine(reader *bufio.Reader) string {
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func promptString(reader *bufio.Reader, out io.Writer, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}

	input := readLine(reader)
	if input == "" {
		return defaultVal
	}
	return input
}

func promptPassword(reader *bufio.Reader, out io.Writer, prompt string) string {
	fmt.Fprintf(out, "  %s: ", prompt)
	return readLine(reader)
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultVal int) int {
	fmt.Fprintf(out, "  %s [%d]: ", prompt, defaultVal)

	input := readLine(reader)
	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultStr)

	input := strings.ToLower(readLine(reader))
	if input == "" {
		return defaultVal
	}
	return input == "yes" || input == "y" || input == "true" || input == "1"
}
