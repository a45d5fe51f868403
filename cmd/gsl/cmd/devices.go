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
	"strings"

	"github.com/abadiet/GarminServerLess/internal/utils"
	"github.com/abadiet/GarminServerLess/pkg/ciq"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.Flags().String("filter", "", "only list devices whose name contains this")
}

// devicesCmd represents the devices command
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the device types known to the Connect IQ store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, _ := cmd.Flags().GetString("filter")

		types, err := ciq.NewClient("").DeviceTypes()
		if err != nil {
			return err
		}

		sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })

		bold := color.New(color.Bold).SprintFunc()
		fmt.Printf("%s %s %s\n", bold(fmt.Sprintf("%-36s", "NAME")), bold(fmt.Sprintf("%-14s", "PART NUMBER")), bold("URL NAME"))
		for _, t := range types {
			if filter != "" && !strings.Contains(strings.ToLower(t.Name), strings.ToLower(filter)) &&
				!utils.StrSliceContains(t.AdditionalNames, filter) {
				continue
			}
			fmt.Printf("%-36s %-14s %s\n", t.Name, t.PartNumber, t.URLName)
		}

		return nil
	},
}
