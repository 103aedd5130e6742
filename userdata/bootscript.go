// Package userdata renders the one-shot boot script and the log agent
// configuration that the instance consumes on first start.
package userdata

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/yairfalse/perusta/config"
)

// The boot sequence is deliberately linear: package install, template
// download and unzip, agent install, agent config write, agent start.
// set -euxo pipefail stops the script on the first failed step.
const bootScriptTemplate = `#!/bin/bash
set -euxo pipefail

dnf update -y
dnf install -y nginx unzip{{if .UseS3}} awscli{{end}}

mkdir -p {{.DocRoot}}
{{if .UseS3 -}}
aws s3 cp s3://{{.S3Bucket}}/{{.S3Key}} /tmp/site-template.zip
{{- else -}}
curl -fsSL -o /tmp/site-template.zip '{{.TemplateURL}}'
{{- end}}
unzip -o /tmp/site-template.zip -d /tmp/site-template
cp -r /tmp/site-template/*/. {{.DocRoot}}/ 2>/dev/null || cp -r /tmp/site-template/. {{.DocRoot}}/
rm -rf /tmp/site-template /tmp/site-template.zip

systemctl enable nginx
systemctl start nginx

dnf install -y amazon-cloudwatch-agent
cat > {{.AgentConfigPath}} <<'CWAGENTCFG'
{{.AgentConfig}}
CWAGENTCFG
/opt/aws/amazon-cloudwatch-agent/bin/amazon-cloudwatch-agent-ctl -a fetch-config -m ec2 -c file:{{.AgentConfigPath}} -s
`

// AgentConfigPath is where the boot script writes the agent config on the VM.
const AgentConfigPath = "/opt/aws/amazon-cloudwatch-agent/etc/amazon-cloudwatch-agent.json"

type bootScriptData struct {
	DocRoot         string
	TemplateURL     string
	UseS3           bool
	S3Bucket        string
	S3Key           string
	AgentConfigPath string
	AgentConfig     string
}

// RenderBootScript renders the user-data shell script for a stack.
func RenderBootScript(stack *config.Stack) (string, error) {
	agentCfg, err := RenderAgentConfig(stack)
	if err != nil {
		return "", fmt.Errorf("failed to render agent config: %w", err)
	}

	data := bootScriptData{
		DocRoot:         stack.Web.DocRoot,
		TemplateURL:     stack.Web.TemplateURL,
		AgentConfigPath: AgentConfigPath,
		AgentConfig:     agentCfg,
	}
	if stack.Web.TemplateS3 != nil {
		data.UseS3 = true
		data.S3Bucket = stack.Web.TemplateS3.Bucket
		data.S3Key = stack.Web.TemplateS3.Key
	}

	tmpl, err := template.New("bootscript").Parse(bootScriptTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse boot script template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render boot script: %w", err)
	}

	return buf.String(), nil
}
