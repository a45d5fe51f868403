/*
Copyright © 2025 abadiet

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"fmt"
	"sort"

	"github.com/abadiet/GarminServerLess/pkg/ciq"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(infoCmd)
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the parsed descriptor of a mounted device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := ciq.NewClient(viper.GetString("session"))
		dev, err := openDevice(client)
		if err != nil {
			return err
		}

		bold := color.New(color.Bold).SprintFunc()

		fmt.Printf("%s %s (%s)\n", bold("Device:"), dev.Name, dev.PartNumber)
		fmt.Printf("%s %s\n", bold("URL name:"), dev.URLName)
		fmt.Printf("%s %s\n", bold("Software:"), dev.SoftwareVersion)
		fmt.Printf("%s %d/%d\n\n", bold("Apps:"), len(dev.Apps), dev.MaxApps)

		fmt.Println(bold("Installed firmware:"))
		parts := make([]string, 0, len(dev.FirmwareVersions))
		for p := range dev.FirmwareVersions {
			parts = append(parts, p)
		}
		sort.Strings(parts)
		for _, p := range parts {
			v := dev.FirmwareVersions[p]
			fmt.Printf("  %-16s %d.%02d\n", p, v.Major, v.Minor)
		}

		fmt.Println()
		fmt.Println(bold("Installed apps:"))
		for _, a := range dev.Apps {
			fmt.Printf("  %-40s v%-5d %-10s %s\n", a.Name, a.Version, a.Type, a.GUID)
		}

		return nil
	},
}
