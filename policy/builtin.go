package policy

// builtinPolicy holds the default guardrails every plan is checked
// against. Extra rules come from --policy-dir.
const builtinPolicy = `package perusta

allowed_instance_types := {"t2.micro", "t2.small", "t3.micro", "t3.small", "t3.medium"}

deny contains msg if {
	not allowed_instance_types[input.stack.instance_type]
	msg := sprintf("instance type %s is not in the allowed set", [input.stack.instance_type])
}

deny contains msg if {
	input.stack.retention_days < 1
	msg := "log retention must be at least 1 day"
}

deny contains msg if {
	input.stack.ssh_cidr == "0.0.0.0/0"
	input.stack.tags.env == "prod"
	msg := "prod stacks must not open SSH to the world"
}
`
