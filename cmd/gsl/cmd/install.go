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
	"github.com/abadiet/GarminServerLess/pkg/app"
	"github.com/abadiet/GarminServerLess/pkg/ciq"
	"github.com/apex/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(installCmd)

	installCmd.Flags().StringP("guid", "g", "", "store GUID of the app (instead of a store URL)")
	installCmd.Flags().BoolP("confirm", "y", false, "do not prompt for confirmation")
}

// installCmd represents the install command
var installCmd = &cobra.Command{
	Use:   "install [store URL]",
	Short: "Install a new Connect IQ app onto a device",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		guid, _ := cmd.Flags().GetString("guid")
		confirm, _ := cmd.Flags().GetBool("confirm")

		if (len(args) == 0) == (guid == "") {
			return fmt.Errorf("you must supply either a store URL or a --guid")
		}

		session := viper.GetString("session")
		if session == "" {
			return fmt.Errorf("a session cookie is required to install apps (set --session or GSL_SESSION)")
		}

		client := ciq.NewClient(session)
		dev, err := openDevice(client)
		if err != nil {
			return err
		}

		var a *app.App
		if guid != "" {
			a, err = app.FromGUID(client, guid)
		} else {
			a, err = app.FromStoreURL(client, args[0])
		}
		if err != nil {
			return err
		}

		if !confirm {
			var proceed bool
			prompt := &survey.Confirm{
				Message: fmt.Sprintf("Install %s v%d onto %s?", a.Name, a.Version, dev.Name),
			}
			survey.AskOne(prompt, &proceed)
			if !proceed {
				return nil
			}
		}

		installed, err := dev.Install(a, viper.GetString("locale"))
		if err != nil {
			return err
		}

		log.WithFields(log.Fields{
			"app":     installed.Name,
			"version": installed.Version,
			"file":    installed.Filename,
		}).Info("install complete")

		return nil
	},
}
