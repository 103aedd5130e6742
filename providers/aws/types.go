package aws

// Metadata keys recorded on provisioned resources. Later steps and the
// destroy path read these instead of re-querying the API.
const (
	MetaRoleName    = "role_name"
	MetaRoleArn     = "role_arn"
	MetaPolicyArn   = "policy_arn"
	MetaProfileName = "profile_name"
	MetaProfileArn  = "profile_arn"
	MetaGroupID     = "group_id"
	MetaPublicIP    = "public_ip"
	MetaPrivateIP   = "private_ip"
	MetaAMI         = "ami"
	MetaBucket      = "bucket"
	MetaKey         = "key"
	MetaZoneID      = "zone_id"
	MetaRecordName  = "record_name"
	MetaRecordValue = "record_value"
	MetaTTL         = "ttl"
)

// CloudWatchAgentPolicyArn is the managed policy the instance role needs
// so the log agent can push to CloudWatch Logs.
const CloudWatchAgentPolicyArn = "arn:aws:iam::aws:policy/CloudWatchAgentServerPolicy"

// EC2AssumeRolePolicy lets EC2 instances assume the stack role.
const EC2AssumeRolePolicy = `{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Effect": "Allow",
      "Principal": {"Service": "ec2.amazonaws.com"},
      "Action": "sts:AssumeRole"
    }
  ]
}`
