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

	"github.com/AlecAivazis/survey/v2"
	"github.com/abadiet/GarminServerLess/internal/utils"
	"github.com/abadiet/GarminServerLess/pkg/ciq"
	"github.com/abadiet/GarminServerLess/pkg/device"
	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(updateCmd)

	updateCmd.Flags().BoolP("list", "l", false, "list pending updates without applying them")
	updateCmd.Flags().Int("id", -1, "apply only the pending update with this id")
	updateCmd.Flags().String("name", "", "apply only the pending update with this name")
	updateCmd.Flags().Bool("firmware-only", false, "only consider firmware updates")
	updateCmd.Flags().Bool("apps-only", false, "only consider app updates")
	updateCmd.Flags().BoolP("confirm", "y", false, "do not prompt for confirmation")
	updateCmd.Flags().String("proxy", "", "HTTP/HTTPS proxy")
	updateCmd.Flags().Bool("insecure", false, "do not verify ssl certs")
	viper.BindPFlag("update.proxy", updateCmd.Flags().Lookup("proxy"))
	viper.BindPFlag("update.insecure", updateCmd.Flags().Lookup("insecure"))
	viper.BindPFlag("update.confirm", updateCmd.Flags().Lookup("confirm"))
}

// updateCmd represents the update command
var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "List and apply pending firmware and app updates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		listOnly, _ := cmd.Flags().GetBool("list")
		id, _ := cmd.Flags().GetInt("id")
		name, _ := cmd.Flags().GetString("name")
		firmwareOnly, _ := cmd.Flags().GetBool("firmware-only")
		appsOnly, _ := cmd.Flags().GetBool("apps-only")

		if firmwareOnly && appsOnly {
			return fmt.Errorf("--firmware-only and --apps-only are mutually exclusive")
		}
		if id >= 0 && name != "" {
			return fmt.Errorf("--id and --name are mutually exclusive")
		}

		session := viper.GetString("session")
		client := ciq.NewClient(session)
		dev, err := openDevice(client)
		if err != nil {
			return err
		}
		dev.Downloads = device.DownloadOptions{
			Proxy:    viper.GetString("update.proxy"),
			Insecure: viper.GetBool("update.insecure"),
			Progress: true,
		}

		var pending int
		if !appsOnly {
			fw, err := dev.FirmwareUpdates(false)
			if err != nil {
				return err
			}
			for i, u := range fw {
				log.WithFields(log.Fields{
					"version":  u.Version(),
					"size":     humanize.Bytes(uint64(u.Size)),
					"severity": u.Severity.String(),
					"order":    u.InstallationOrder,
				}).Infof("[%d] firmware: %s", i, u.Name())
				for _, change := range u.Changes {
					utils.Indent(log.Debug, 2)(change)
				}
			}
			pending += len(fw)
		}
		if !firmwareOnly {
			if session == "" {
				log.Warn("no session cookie: skipping the app update check (set --session or GSL_SESSION)")
			} else {
				apps, err := dev.AppUpdates(false)
				if err != nil {
					return err
				}
				for i, u := range apps {
					log.WithFields(log.Fields{
						"version": u.VersionName,
						"size":    humanize.Bytes(uint64(u.Size)),
					}).Infof("[%d] app: %s", i, u.Name())
					if u.PermissionsChanged {
						log.Warnf("permissions of %s changed upstream", u.Name())
					}
				}
				pending += len(apps)
			}
		}

		if pending == 0 {
			log.Info("everything is up to date")
			return nil
		}
		if listOnly {
			return nil
		}

		if !viper.GetBool("update.confirm") {
			var proceed bool
			prompt := &survey.Confirm{
				Message: fmt.Sprintf("Apply %d pending update(s)?", pending),
			}
			survey.AskOne(prompt, &proceed)
			if !proceed {
				return nil
			}
		}

		sel := device.All()
		if id >= 0 {
			sel = device.ByID(id)
		} else if name != "" {
			sel = device.ByName(name)
		}

		var paths []string
		switch {
		case appsOnly:
			paths, err = dev.UpdateApps(sel, false)
		case firmwareOnly || session == "":
			// the app update check needs the session cookie, only the
			// firmware half was listed above
			paths, err = dev.UpdateFirmwares(sel, false)
		default:
			paths, err = dev.UpdateAll(sel, false)
		}
		for _, p := range paths {
			log.WithField("path", p).Info("updated")
		}

		return err
	},
}
