package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hivescan/hivescan/internal/core/domain"
)

var (
	scanTitle  string
	agentKeys  []string
	groupPath  string
	followKeys []string
	installRun bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Start, stop and list scans",
}

var scanRunCmd = &cobra.Command{
	Use:   "run [domain|ip] [value]",
	Short: "Start a scan against an asset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		asset, err := parseAsset(args[0], args[1])
		if err != nil {
			return err
		}
		group, err := loadGroup()
		if err != nil {
			return err
		}

		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		rt.Follow = followKeys

		if installRun {
			if err := rt.Install(cmd.Context()); err != nil {
				return err
			}
		}
		if !rt.CanRun(group) {
			return fmt.Errorf("runtime cannot run the provided agent group")
		}
		return rt.Scan(cmd.Context(), scanTitle, group, asset)
	},
}

var scanStopCmd = &cobra.Command{
	Use:   "stop [scan-id]",
	Short: "Stop a scan and remove its cluster resources",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		return rt.Stop(cmd.Context(), args[0])
	},
}

var scanListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scans",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		scans, err := rt.List(cmd.Context(), 0, 0)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tASSET\tPROGRESS\tCREATED")
		for _, scan := range scans {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				scan.ID, scan.Title, scan.Asset, scan.Progress,
				scan.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

func init() {
	scanRunCmd.Flags().StringVar(&scanTitle, "title", "", "scan title")
	scanRunCmd.Flags().StringSliceVar(&agentKeys, "agent", nil, "agent key to run (repeatable)")
	scanRunCmd.Flags().StringVar(&groupPath, "group", "", "path to an agent group definition YAML file")
	scanRunCmd.Flags().StringSliceVar(&followKeys, "follow", nil, "agent key whose logs are streamed (repeatable)")
	scanRunCmd.Flags().BoolVar(&installRun, "install", false, "install default agents before scanning")

	scanCmd.AddCommand(scanRunCmd, scanStopCmd, scanListCmd)
}

func parseAsset(assetType, value string) (domain.Asset, error) {
	switch assetType {
	case "domain":
		return domain.DomainName{Name: value}, nil
	case "ip":
		return domain.IPv4{Host: value}, nil
	default:
		return nil, fmt.Errorf("unsupported asset type %q, want domain or ip", assetType)
	}
}

// loadGroup builds the agent group from --group or from repeated --agent
// flags. Exactly one of the two must be provided.
func loadGroup() (domain.AgentGroupDefinition, error) {
	if groupPath != "" && len(agentKeys) > 0 {
		return domain.AgentGroupDefinition{}, fmt.Errorf("--group and --agent are mutually exclusive")
	}
	if groupPath != "" {
		f, err := os.Open(groupPath)
		if err != nil {
			return domain.AgentGroupDefinition{}, fmt.Errorf("opening agent group file: %w", err)
		}
		defer f.Close()
		return domain.AgentGroupFromYAML(f)
	}
	if len(agentKeys) == 0 {
		return domain.AgentGroupDefinition{}, fmt.Errorf("no agents provided, use --agent or --group")
	}
	group := domain.AgentGroupDefinition{}
	for _, key := range agentKeys {
		group.Agents = append(group.Agents, domain.AgentSettings{
			Key:           key,
			Replicas:      1,
			RestartPolicy: domain.RestartPolicyAny,
		})
	}
	return group, nil
}
