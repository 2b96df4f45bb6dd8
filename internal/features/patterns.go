package features

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/osintube/threatscan/internal/model"
)

// PatternTable lists the regular expressions matched against accent-folded,
// lowercased comment text. Each category holds English and Portuguese entries.
type PatternTable struct {
	Categories map[model.Category][]string `yaml:"categories"`
	Pronouns   []string                    `yaml:"pronouns"`
	Urgency    []string                    `yaml:"urgency"`
}

// DefaultPatterns returns the built-in bilingual (EN/PT) table.
func DefaultPatterns() PatternTable {
	return PatternTable{
		Categories: map[model.Category][]string{
			model.CategoryViolence: {
				`\b(kill(s|ed|ing|er)?|murder\w*|shoot\w*|shot|stab\w*|bomb\w*|explod\w*|attack\w*|destroy\w*|slaughter\w*|massacre\w*|behead\w*|lynch\w*)\b`,
				`\b(mat(ar|a|o|em|ou|ando|aram)|mort[eo]s?|morr(a|am|er)|assassin\w*|tiros?|bombas?|explodir|atac(ar|a|o|ou|ando|aram)|destrui\w*|destruir|esfaque\w*|queima(r|m)|massacr\w*|elimin\w*|armas?)\b`,
			},
			model.CategoryHateSpeech: {
				`\b(hat(e|es|ed|red|ing)|terroris\w*|scum|vermin|subhuman|nazi\w*|racis\w*|degenerate\w*|filth\w*|traitor\w*)\b`,
				`\b(od(io|eio|iar|iamos|eiam)|lixo\w*|nojent\w*|verme\w*|escoria|racist\w*|traidor\w*|vagabund\w*|terrorist\w*)\b`,
			},
			model.CategoryThreats: {
				`\b(i('| wi)ll|i am going to|i'm going to|we('| wi)ll|we're going to|we are going to) (kill|hurt|find|get|destroy|end|shoot|burn)\b`,
				`\byou('ll| will) (pay|regret|die|be sorry)\b`,
				`\b(watch your back|you are dead|you're dead|your days are numbered|revenge|we know where you live)\b`,
				`\b(vou|vamos) (te |lhe |os |as )?(matar|pegar|destruir|acabar)\b`,
				`\b(vai|vao) (pagar|morrer|se arrepender)\b`,
				`\b(vinganca|se cuida|voce esta morto|sabemos onde voce mora|ameac\w*)\b`,
			},
			model.CategoryIncitement: {
				`\b(someone should|somebody should|we should all|teach (them|him|her) a lesson|take up arms|rise up|let's (go )?(get|attack|burn)|go out and)\b`,
				`\b(alguem (deveria|precisa)|vamos (atacar|invadir|pra rua|para as ruas)|peguem em armas|as armas|levantem-se|revolta armada|invadam)\b`,
			},
		},
		Pronouns: []string{
			`\b(you|your|yours|yourself|yourselves|u|ur)\b`,
			`\b(voce|voces|vc|vcs|tu|teu|tua|seu|sua)\b`,
		},
		Urgency: []string{
			`\b(now|immediately|urgent\w*|asap|today|tonight|right away|hurry)\b`,
			`\b(agora|ja|urgente|hoje|imediatamente|rapido)\b`,
		},
	}
}

// LoadPatterns reads a YAML pattern file. Categories present in the file
// replace the built-in entries for that category; absent ones keep the
// defaults. Empty pronoun or urgency lists also keep the defaults.
func LoadPatterns(path string) (PatternTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PatternTable{}, eris.Wrapf(err, "features: read patterns %s", path)
	}

	var override PatternTable
	if err := yaml.Unmarshal(data, &override); err != nil {
		return PatternTable{}, eris.Wrap(err, "features: parse patterns")
	}

	table := DefaultPatterns()
	for cat, exprs := range override.Categories {
		table.Categories[cat] = exprs
	}
	if len(override.Pronouns) > 0 {
		table.Pronouns = override.Pronouns
	}
	if len(override.Urgency) > 0 {
		table.Urgency = override.Urgency
	}
	return table, nil
}
