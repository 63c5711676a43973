package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/crn-cloud/crn/api/rest/service/jobdef"
	definition "github.com/crn-cloud/crn/pkg/jobdef"
)

// CRN is a minimal API client used by the CLI.
type CRN interface {
	ApplyDefinition(def *definition.Definition) (*jobdef.Described, error)
	ListDefinitions() (map[string]map[int]*jobdef.Described, error)
}

func Client(server string) CRN {
	return &client{server: server}
}

type client struct {
	server string
}

func (c *client) ApplyDefinition(def *definition.Definition) (*jobdef.Described, error) {
	body := jobdef.RegisterRequest{
		Parameters:         def.Parameters,
		Descriptions:       def.Descriptions,
		ParametersMetadata: def.ParametersMetadata,
		AnalysisLevels:     def.AnalysisLevels,
	}
	body.Name = def.Metadata.Name
	body.Image = def.Container.Image
	body.Command = def.Container.Command
	body.Env = def.Container.Env

	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	resp, err := http.Post(
		fmt.Sprintf("%v/v1/definitions", c.server),
		"application/json",
		bytes.NewBuffer(buf),
	)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if buf, err = io.ReadAll(resp.Body); err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("apply %v: %v: %v",
			def.Metadata.Name, resp.Status, string(buf))
	}

	described := &jobdef.Described{}
	if err = json.Unmarshal(buf, described); err != nil {
		return nil, err
	}

	return described, nil
}

func (c *client) ListDefinitions() (map[string]map[int]*jobdef.Described, error) {
	resp, err := http.Get(fmt.Sprintf("%v/v1/definitions", c.server))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("list definitions: %v: %v",
			resp.Status, string(buf))
	}

	defs := map[string]map[int]*jobdef.Described{}
	if err = json.Unmarshal(buf, &defs); err != nil {
		return nil, err
	}

	return defs, nil
}

// ValidateServer ensures the server flag parses as an absolute URL.
func ValidateServer(server string) error {
	u, err := url.Parse(server)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid server address: %q", server)
	}
	return nil
}
