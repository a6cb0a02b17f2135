package version

import (
	"fmt"
	"log"
	"strings"

	"github.com/houya/fqsocks/theme"
)

var (
	Name        = "fqsocks"
	Authors     = "fqsocks contributors"
	Description = "Censorship-circumvention HTTP/HTTPS proxy gateway"
	Version     = "v0.0.1"
	Commit      = "none"
	Date        = "nowish"
	User        = "local"
)

const (
	GithubHomeText  = "github.com/houya/fqsocks"
	GithubHomeUri   = "https://github.com/houya/fqsocks"
	GithubLatestUri = "https://github.com/houya/fqsocks/releases/latest"
)

func PrintVersionInfo(extendedInfo bool, vlog *log.Logger) {
	githubUri := theme.Hyperlink(GithubHomeUri, GithubHomeText)
	latestUri := theme.Hyperlink(GithubLatestUri, Version)
	padLatest := fmt.Sprintf("%*s", 1-len(Version), "")
	padBuffer := fmt.Sprintf("%*s", 2, "")

	var b strings.Builder

	b.WriteString(theme.ColourSplash(`
+----------------------------------------------------------+
|   ___              _           _                         |
|  / __|__ _ ___ ___ | |__ ___ __| |__ ___                  |
| | (_ / _` + "`" + ` (_-</ -_)| '_ (_-</ _` + "`" + ` / _(_-<                 |
|  \___\__, /__/\___||_.__/__/\__,_\__/__/                  |
|      |___/                                                |` + "\n"))

	b.WriteString(theme.ColourSplash("| "))
	b.WriteString(theme.StyleUrl(githubUri))
	b.WriteString(padLatest)
	b.WriteString(theme.ColourVersion(latestUri))
	b.WriteString(padBuffer)
	b.WriteString(theme.ColourSplash(" |\n"))
	b.WriteString(theme.ColourSplash("+----------------------------------------------------------+"))

	if extendedInfo {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf(" Commit: %s\n", Commit))
		b.WriteString(fmt.Sprintf("  Built: %s\n", Date))
		b.WriteString(fmt.Sprintf("  Using: %s\n", User))
	}

	vlog.Println(b.String())
}
