package auth

import (
	"fmt"
	"io"
	"strings"
)

// ShowTokenGuide prints how to obtain a bearer token and where twcrawl
// looks for it
func ShowTokenGuide(w io.Writer) {
	rule := strings.Repeat("=", 72)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "TWITTER API BEARER TOKEN")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The crawl uses the v2 full-archive search, which needs an app with")
	fmt.Fprintln(w, "Academic Research access.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STEP 1: Open https://developer.twitter.com/en/portal/dashboard")
	fmt.Fprintln(w, "STEP 2: Select your project and app, then 'Keys and tokens'")
	fmt.Fprintln(w, "STEP 3: Generate (or regenerate) the Bearer Token and copy it")
	fmt.Fprintln(w, "STEP 4: Run 'twcrawl auth set-token' and paste it when asked")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The token is looked up in this order:")
	fmt.Fprintln(w, "  1. twitter.bearer_token in the config file")
	fmt.Fprintln(w, "  2. the system keychain")
	fmt.Fprintln(w, "  3. the encrypted credentials file")
	fmt.Fprintf(w, "  4. the %s environment variable\n", TokenEnv)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Keep the token private. Anyone holding it spends your request quota.")
	fmt.Fprintln(w, rule)
}
