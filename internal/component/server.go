package component

type UserId struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type Certificate struct {
	AdditionalHosts []string `mapstructure:"hosts"`
	AdditionalIPs   []string `mapstructure:"ips"`
}

// Server holds the OPC UA endpoint settings.
type Server struct {
	Host           string      `mapstructure:"host"`
	Port           int         `mapstructure:"port"`
	ServerName     string      `mapstructure:"server_name"`
	NamespaceURI   string      `mapstructure:"namespace_uri"`
	PKIDir         string      `mapstructure:"pki_dir"`
	AllowAnonymous bool        `mapstructure:"allow_anonymous"`
	UserIds        []UserId    `mapstructure:"user_ids"`
	Certificate    Certificate `mapstructure:"certificate"`
}
