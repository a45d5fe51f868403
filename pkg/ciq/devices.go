package ciq

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
)

// DeviceType is one record of the vendor's device-type directory
type DeviceType struct {
	ID              int      `json:"id,omitempty"`
	Name            string   `json:"name,omitempty"`
	PartNumber      string   `json:"partNumber,omitempty"`
	URLName         string   `json:"urlName,omitempty"`
	ImageURL        string   `json:"imageUrl,omitempty"`
	AdditionalNames []string `json:"additionalNames,omitempty"`
}

func (c *Client) loadDeviceTypes() error {
	res, err := c.hc.Get(c.AppsURL + "/api/appsLibraryExternalServices/api/asw/deviceTypes")
	if err != nil {
		return errors.Wrap(err, "failed to get the device types")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return errors.Wrapf(ErrTransport, "device types api returned status: %s", res.Status)
	}

	if err := json.NewDecoder(res.Body).Decode(&c.deviceTypes); err != nil {
		return errors.Wrap(err, "failed to parse device types")
	}

	c.nameIdx = make(map[string]int, len(c.deviceTypes))
	c.partNumIdx = make(map[string]int, len(c.deviceTypes))
	for i, d := range c.deviceTypes {
		c.nameIdx[d.Name] = i
		c.partNumIdx[d.PartNumber] = i
	}

	return nil
}

// DeviceTypes returns the whole device-type directory, fetching it on
// first use and answering from the cache afterwards
func (c *Client) DeviceTypes() ([]DeviceType, error) {
	if c.deviceTypes == nil {
		if err := c.loadDeviceTypes(); err != nil {
			return nil, err
		}
	}
	return c.deviceTypes, nil
}

// DeviceInfo looks a device type up by display name
func (c *Client) DeviceInfo(name string) (*DeviceType, error) {
	if _, err := c.DeviceTypes(); err != nil {
		return nil, err
	}
	i, ok := c.nameIdx[name]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidReference, "invalid device name: %s", name)
	}
	return &c.deviceTypes[i], nil
}

// DeviceInfoByPartNumber looks a device type up by part number
func (c *Client) DeviceInfoByPartNumber(partNumber string) (*DeviceType, error) {
	if _, err := c.DeviceTypes(); err != nil {
		return nil, err
	}
	i, ok := c.partNumIdx[partNumber]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidReference, "invalid device part number: %s", partNumber)
	}
	return &c.deviceTypes[i], nil
}
