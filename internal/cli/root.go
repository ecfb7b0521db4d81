// internal/cli/root.go
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rendercrawl/rendercrawl/internal/app"
	"github.com/rendercrawl/rendercrawl/internal/config"
	"github.com/rendercrawl/rendercrawl/internal/ui"
)

var (
	verbose    bool
	quiet      bool
	jsonOutput bool
	proxy      string
	timeout    string
	userAgent  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "rendercrawl",
	Short:   "A browser-driven web crawler",
	Long:    `RenderCrawl loads pages in real headless browsers, runs their JavaScript, and records every HTTP request the pages make while extraction strategies hunt for new URLs.`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
// It initializes the application and passes it to all commands.
func Execute() {
	// Execute CLI (application is initialized lazily in PersistentPreRunE)
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// Lazily initialize the application before running commands (avoid starting app for -h/help)
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if GetAppFromCmd(cmd) != nil {
			return nil
		}

		cfg, err := config.Load(rootCmd)
		if err != nil {
			log.Warn().Err(err).Msg("failed to load configuration, using defaults")
			cfg = &config.Config{}
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout*10)
		defer cancel()
		// If initialization fails, cancel immediately
		appCtx, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}

		// Store app in the current command's context for commands to access
		SetApp(cmd, appCtx)
		// Also store on root command for compatibility
		SetApp(rootCmd, appCtx)
		return nil
	}

	// Ensure app is closed after command runs
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		appCtx := GetAppFromCmd(cmd)
		if appCtx == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), appCtx.Config.HTTPTimeout*10)
		defer cancel()
		_ = appCtx.Close(ctx)
		// Clear the app from the current command's context and the root command
		SetApp(cmd, nil)
		SetApp(rootCmd, nil)
	}
}

func init() {
	// Register centralized flags
	config.RegisterFlags(rootCmd)
	cobra.OnInitialize(initConfig)

	// Customize help and version flag descriptions
	rootCmd.Flags().BoolP("help", "h", false, "Help for RenderCrawl")
	rootCmd.Flags().Bool("version", false, "Version for RenderCrawl")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// Load configuration (reads flags and env)
	cfg, err := config.Load(rootCmd)
	if err != nil {
		// Fall back to defaults but log the issue
		log.Warn().Err(err).Msg("failed to load configuration, using defaults")
		cfg = &config.Config{}
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		verbose = true
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
		quiet = true
	default:
		// Default to suppressing info logs unless verbose is explicitly requested
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	}

	if cfg.JSONLog {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		jsonOutput = true
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Populate legacy globals so existing commands work
	userAgent = cfg.UserAgent
	proxy = cfg.Proxy
	timeout = cfg.HTTPTimeout.String()

	log.Debug().Str("user_agent", cfg.UserAgent).Msg("Configuration loaded")
}

// GetUserAgent returns the configured user agent string
func GetUserAgent() string {
	if userAgent != "" {
		return userAgent
	}
	return config.DefaultUserAgent
}

func init() {
	// Disable the default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Set custom help function
	rootCmd.SetHelpFunc(customHelpFunc)
	rootCmd.SetUsageFunc(customUsageFunc)
}

// helpWriter renders the colorized help and usage screens. Help goes to
// stdout in full; usage is the shorter variant shown on stderr after a
// command line error. Both are built from the same section methods.
type helpWriter struct {
	w io.Writer
}

// flagColumnWidth is the minimum width of the flag column, so short and
// long flag specs still align their descriptions.
const flagColumnWidth = 30

func customHelpFunc(cmd *cobra.Command, args []string) {
	h := helpWriter{w: os.Stdout}

	fmt.Fprintf(h.w, "\n%s\n", ui.Title(strings.ToUpper(cmd.Name())))
	if cmd.Short != "" {
		fmt.Fprintln(h.w, cmd.Short)
	}
	if cmd.Long != "" && cmd.Long != cmd.Short {
		fmt.Fprintf(h.w, "\n%s\n", wrap(cmd.Long, 80))
	}

	h.usage(cmd)
	h.examples(cmd)
	h.commands(cmd)
	if cmd.HasAvailableLocalFlags() {
		h.flags("Flags", cmd.LocalFlags().FlagUsages())
	}
	if cmd.HasAvailableInheritedFlags() {
		h.flags("Global Flags", cmd.InheritedFlags().FlagUsages())
	}

	if cmd.HasAvailableSubCommands() {
		hint := fmt.Sprintf("Use %q for more information about a command.", cmd.CommandPath()+" <command> --help")
		fmt.Fprintf(h.w, "\n%s\n", ui.Muted(hint))
	}
	fmt.Fprintln(h.w)
}

func customUsageFunc(cmd *cobra.Command) error {
	h := helpWriter{w: os.Stderr}

	h.usage(cmd)
	h.commands(cmd)
	if cmd.HasAvailableLocalFlags() {
		h.flags("Flags", cmd.LocalFlags().FlagUsages())
	}

	hint := fmt.Sprintf("Use %q for more information.", cmd.CommandPath()+" --help")
	fmt.Fprintf(h.w, "\n%s\n", ui.Muted(hint))
	return nil
}

func (h helpWriter) section(title string) {
	fmt.Fprintf(h.w, "\n%s\n", ui.Header(title))
}

func (h helpWriter) usage(cmd *cobra.Command) {
	h.section("Usage")
	if cmd.Runnable() {
		fmt.Fprintf(h.w, "  %s\n", ui.Accent(cmd.UseLine()))
	}
	if cmd.HasAvailableSubCommands() {
		fmt.Fprintf(h.w, "  %s %s %s\n",
			ui.Accent(cmd.CommandPath()), ui.Arg("<command>"), ui.Muted("[flags]"))
	}
}

func (h helpWriter) examples(cmd *cobra.Command) {
	if !cmd.HasExample() {
		return
	}
	h.section("Examples")

	afterCommand := false
	for _, raw := range strings.Split(cmd.Example, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
		case strings.HasPrefix(line, "#"):
			// Blank line between an invocation and the next comment block
			if afterCommand {
				fmt.Fprintln(h.w)
			}
			fmt.Fprintf(h.w, "  %s\n", ui.Muted(line))
			afterCommand = false
		default:
			fmt.Fprintf(h.w, "  %s\n", ui.Success("$ "+line))
			afterCommand = true
		}
	}
}

func (h helpWriter) commands(cmd *cobra.Command) {
	if !cmd.HasAvailableSubCommands() {
		return
	}
	h.section("Commands")

	var sub []*cobra.Command
	width := 0
	for _, c := range cmd.Commands() {
		if !c.IsAvailableCommand() || c.Name() == "help" {
			continue
		}
		sub = append(sub, c)
		if len(c.Name()) > width {
			width = len(c.Name())
		}
	}
	for _, c := range sub {
		pad := strings.Repeat(" ", width-len(c.Name())+2)
		fmt.Fprintf(h.w, "  %s%s%s\n", ui.Accent(c.Name()), pad, ui.Muted(c.Short))
	}
}

func (h helpWriter) flags(title, usages string) {
	if strings.TrimSpace(usages) == "" {
		return
	}
	h.section(title)

	for _, line := range strings.Split(usages, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		flag, desc, ok := splitFlagUsage(line)
		if !ok {
			// pflag wrapped the description onto its own line
			indent := strings.Repeat(" ", flagColumnWidth+4)
			fmt.Fprintf(h.w, "%s%s\n", indent, ui.Muted(strings.TrimSpace(line)))
			continue
		}
		pad := 2
		if len(flag) < flagColumnWidth {
			pad = flagColumnWidth - len(flag) + 2
		}
		fmt.Fprintf(h.w, "  %s%s%s\n", ui.Success(flag), strings.Repeat(" ", pad), ui.Muted(desc))
	}
}

// splitFlagUsage takes one line of pflag's FlagUsages output and separates
// the flag spec ("-H, --header strings") from its description. ok is false
// for continuation lines, which do not start with a dash.
func splitFlagUsage(line string) (flag, desc string, ok bool) {
	trimmed := strings.TrimLeft(line, " ")
	if !strings.HasPrefix(trimmed, "-") {
		return "", "", false
	}
	flag, desc, found := strings.Cut(trimmed, "  ")
	if !found {
		return strings.TrimSpace(flag), "", true
	}
	return strings.TrimSpace(flag), strings.TrimSpace(desc), true
}

// wrap reflows text to the given width, keeping paragraph breaks and
// leaving list items on their own lines.
func wrap(text string, width int) string {
	var paragraphs []string
	for _, para := range strings.Split(text, "\n\n") {
		var lines []string
		for _, raw := range strings.Split(para, "\n") {
			line := strings.TrimSpace(raw)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") {
				lines = append(lines, line)
				continue
			}
			current := ""
			for _, word := range strings.Fields(line) {
				switch {
				case current == "":
					current = word
				case len(current)+1+len(word) <= width:
					current += " " + word
				default:
					lines = append(lines, current)
					current = word
				}
			}
			if current != "" {
				lines = append(lines, current)
			}
		}
		if len(lines) > 0 {
			paragraphs = append(paragraphs, strings.Join(lines, "\n"))
		}
	}
	return strings.Join(paragraphs, "\n\n")
}
