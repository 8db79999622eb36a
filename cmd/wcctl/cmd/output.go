package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/wordcheck/session-agent/internal/model"
	"gopkg.in/yaml.v3"
)

type sessionView struct {
	LoggedIn   bool              `json:"loggedIn" yaml:"loggedIn"`
	Phase      string            `json:"phase" yaml:"phase"`
	RetryCount int               `json:"retryCount" yaml:"retryCount"`
	LastError  string            `json:"lastError,omitempty" yaml:"lastError,omitempty"`
	UserInfo   model.UserProfile `json:"userInfo,omitempty" yaml:"userInfo,omitempty"`
	ExpiresAt  *time.Time        `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
}

type sweepView struct {
	Removed int `json:"removed" yaml:"removed"`
	Left    int `json:"left" yaml:"left"`
}

func (c *cli) viewOf(sess *model.Session) sessionView {
	snap := c.app.Manager.Snapshot()
	v := sessionView{
		Phase:      snap.Phase,
		RetryCount: snap.RetryCount,
		LastError:  snap.LastError,
	}
	if sess != nil {
		v.LoggedIn = true
		v.UserInfo = sess.Profile
		if !sess.ExpiresAt.IsZero() {
			exp := sess.ExpiresAt
			v.ExpiresAt = &exp
		}
	}
	return v
}

func (c *cli) render(cmd *cobra.Command, v any) error {
	var (
		out []byte
		err error
	)
	if c.output == "yaml" {
		out, err = yaml.Marshal(v)
	} else {
		out, err = json.MarshalIndent(v, "", "  ")
		out = append(out, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to render output: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
