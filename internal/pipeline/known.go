package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sells-group/visa-pipeline/internal/contract"
	"github.com/sells-group/visa-pipeline/internal/model"
	"github.com/sells-group/visa-pipeline/internal/visa"
)

// KnownFlags summarizes what the facts already answer. It is sent to the
// backend and used to drop questions on settled topics.
type KnownFlags struct {
	HasSponsor               bool   `json:"has_sponsor"`
	JobOffer                 bool   `json:"job_offer"`
	DegreeLevel              string `json:"degree_level,omitempty"`
	YearsExp                 *int   `json:"years_exp,omitempty"`
	Nationality              string `json:"nationality,omitempty"`
	CountryOfBirth           string `json:"country_of_birth,omitempty"`
	HasFunding               bool   `json:"has_funding"`
	EB5Budget                bool   `json:"eb5_budget"`
	E2TreatyPassportCountry  string `json:"e2_treaty_passport_country,omitempty"`
	E2InvestAmount           bool   `json:"e2_invest_amount"`
	DVEligibleHint           bool   `json:"dv_eligible_hint"`
	O1Evidence               bool   `json:"o1_evidence"`
	L1OneYear                bool   `json:"l1_one_year"`
	L1QualifyingRelationship bool   `json:"l1_qualifying_relationship"`
}

// BuildKnownFlags derives KnownFlags from facts.
func BuildKnownFlags(f *model.Facts) KnownFlags {
	var k KnownFlags
	if f == nil {
		return k
	}
	s := f.Signals
	if s == nil {
		s = &model.Signals{}
	}

	k.JobOffer = model.BoolValue(s.HasJobOffer)
	k.HasSponsor = model.BoolValue(f.HasUSSponsor) || k.JobOffer
	k.DegreeLevel = strings.ToLower(f.Education)
	k.YearsExp = f.WorkExperienceYears
	if f.Personal != nil {
		k.Nationality = strings.ToLower(f.Personal.Nationality)
	}
	k.CountryOfBirth = s.ChargeabilityCountry
	k.DVEligibleHint = s.ChargeabilityCountry != ""

	invested := s.InvestmentCapacityUSD != nil && *s.InvestmentCapacityUSD > 0
	k.HasFunding = invested
	k.EB5Budget = invested
	k.E2InvestAmount = invested
	if s.TreatyEligible != nil && model.BoolValue(s.TreatyEligible.E2) {
		k.E2TreatyPassportCountry = k.Nationality
		if k.E2TreatyPassportCountry == "" {
			k.E2TreatyPassportCountry = "treaty"
		}
	}

	if ev := s.ExtraordinaryEvidence; ev != nil {
		k.O1Evidence = len(ev.Awards) > 0 ||
			(ev.MediaMentions != nil && *ev.MediaMentions > 0) ||
			model.BoolValue(ev.PeerReviewJury) ||
			ev.OriginalContributions != ""
	}
	k.L1OneYear = s.MultinationalExperienceYears != nil && *s.MultinationalExperienceYears >= 1
	if s.JobOfferDetails != nil {
		k.L1QualifyingRelationship = model.BoolValue(s.JobOfferDetails.IsMultinational)
	}
	return k
}

type answeredRule struct {
	patterns []*regexp.Regexp
	known    func(KnownFlags) bool
}

func re(expr string) *regexp.Regexp { return regexp.MustCompile(expr) }

func sponsorKnown(k KnownFlags) bool { return k.HasSponsor || k.JobOffer }

// answeredRules run over folded question text. A question matching every
// pattern of a rule whose flag is set is already answered.
var answeredRules = []answeredRule{
	{[]*regexp.Regexp{re(`\b(f-1|f1)\b.*\b(funding|recursos|comprovante|financial)`)},
		func(k KnownFlags) bool { return k.HasFunding }},
	{[]*regexp.Regexp{re(`\beb[-\s_]?5\b`), re(`\b(800|1\.05|1,05|investimento|budget|origem licita|source of funds)\b`)},
		func(k KnownFlags) bool { return k.EB5Budget }},
	{[]*regexp.Regexp{re(`\be[-\s_]?2\b`), re(`\b(passaporte|treaty|tratado|pais)\b`)},
		func(k KnownFlags) bool { return k.E2TreatyPassportCountry != "" }},
	{[]*regexp.Regexp{re(`\be[-\s_]?2\b`), re(`\b(invest|investir|valor|montante|amount)\b`)},
		func(k KnownFlags) bool { return k.E2InvestAmount }},
	{[]*regexp.Regexp{re(`\bdv\b|diversity`)},
		func(k KnownFlags) bool { return k.CountryOfBirth != "" || k.DVEligibleHint }},
	{[]*regexp.Regexp{re(`\b(h[-\s_]?1b|perm|job offer|oferta de emprego|empregador|peticionar|sponsor)\b`)},
		sponsorKnown},
	{[]*regexp.Regexp{re(`\bo[-\s_]?1\b`), re(`\b(premio|award|midia|media|juri|judging|extraordinary|impact)\b`)},
		func(k KnownFlags) bool { return k.O1Evidence }},
	{[]*regexp.Regexp{re(`\bl[-\s_]?1\b`), re(`\b(1 ano|one year)\b`)},
		func(k KnownFlags) bool { return k.L1OneYear }},
	{[]*regexp.Regexp{re(`\bl[-\s_]?1\b`), re(`\b(relacao|qualifying|mesmo grupo|grupo empresarial)\b`)},
		func(k KnownFlags) bool { return k.L1QualifyingRelationship }},
	{[]*regexp.Regexp{re(`\b(requires sponsor|sponsor|empregador|job offer)\b`)},
		sponsorKnown},
}

// AlreadyAnswered reports whether q asks about a topic flags already settle.
func AlreadyAnswered(q string, flags KnownFlags) bool {
	f := contract.Fold(q)
	for _, r := range answeredRules {
		if !r.known(flags) {
			continue
		}
		matched := true
		for _, p := range r.patterns {
			if !p.MatchString(f) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

type phrase struct{ pt, en string }

func (p phrase) in(lang model.Language) string {
	if lang == model.LanguageEN {
		return p.en
	}
	return p.pt
}

var fallbackTable = map[visa.Code][]phrase{
	visa.CodeEB2NIW: {
		{"Quais evidências de impacto você possui (publicações, liderança, prêmios, patentes, impacto comercial, cartas independentes)?",
			"Which impact evidence can you provide (publications, leadership, awards, patents, commercial impact, independent letters)?"},
		{"Qual é o plano de atuação nos EUA e por que tem mérito e importância nacionais (setor, problema, benefício)?",
			"What is your U.S. proposed endeavor and why is it nationally important (sector, problem, benefit)?"},
		{"Que recursos e rede você possui para avançar o plano (parcerias, clientes, funding, tração)?",
			"What resources and network do you have to advance the endeavor (partners, customers, funding, traction)?"},
	},
	visa.CodeEB5: {
		{"Você pretende investir via centro regional (TEA) ou investimento direto com criação de 10 empregos?",
			"Will you pursue a regional center (TEA) or direct investment creating 10 jobs?"},
		{"Você já possui documentação para comprovar a origem lícita dos recursos (impostos, extratos, contratos)?",
			"Do you have documentation to prove the lawful source of funds (tax returns, bank statements, contracts)?"},
	},
	visa.CodeE2: {
		{"O investimento será em negócio novo ou aquisição, e qual o plano operacional (funções, contratos, projeções)?",
			"Is the investment for a new venture or acquisition, and what is the operational plan (roles, contracts, projections)?"},
		{"Como você demonstrará risco e substancialidade do investimento (compromisso irrevogável dos fundos, despesas já realizadas)?",
			"How will you demonstrate investment at risk and substantiality (irrevocable commitment of funds, expenses already made)?"},
	},
	visa.CodeE1: {
		{"Há fluxo substancial de comércio principal entre o país do tratado e os EUA (percentual aproximado e volume)?",
			"Is there substantial trade principally between the treaty country and the U.S. (approximate share and volume)?"},
	},
	visa.CodeDV: {
		{"Você atende aos requisitos de escolaridade (ensino médio) ou experiência qualificada conforme as regras da DV?",
			"Do you meet the education (high school) or qualifying work experience requirements under DV rules?"},
	},
	visa.CodeO1: {
		{"Quais critérios O-1 você cumpre hoje (prêmio de grande prestígio, matérias relevantes, liderança, júri, autoria, salário alto)?",
			"Which O-1 criteria do you meet (major awards, notable media, leadership, judging, authorship, high salary)?"},
	},
	visa.CodeH1B: {
		{"A ocupação exige bacharel específico e sua formação corresponde ao requisito do cargo?",
			"Does the role require a specific bachelor's and does your education match that requirement?"},
	},
	visa.CodeL1: {
		{"Qual a relação entre as empresas (matriz/filial/afiliada) e qual seu cargo e responsabilidades nos últimos 3 anos?",
			"What is the relationship between entities (parent/sub/affiliate) and your role & duties in the last 3 years?"},
	},
	visa.CodeFamily: {
		{"Qual o grau de parentesco com o cidadão/residente e que documentos civis você possui para comprovar?",
			"What is the relationship to the citizen/LPR and which civil documents do you have to prove it?"},
	},
	visa.CodeIR1: {
		{"O cônjuge é cidadão americano e o casamento já tem mais de 2 anos? Quais documentos civis você tem (certidão, prova de relacionamento)?",
			"Is your spouse a U.S. citizen and has the marriage lasted over 2 years? What civil documents do you have (certificate, relationship evidence)?"},
	},
	visa.CodeCR1: {
		{"O cônjuge é cidadão americano e o casamento tem menos de 2 anos? Há prova de relacionamento bona fide (fotos, viagens, contas conjuntas)?",
			"Is your spouse a U.S. citizen and has the marriage been under 2 years? Do you have bona fide relationship evidence (photos, trips, joint accounts)?"},
	},
	visa.CodeK1: {
		{"Você e o(a) noivo(a) cidadão(ã) americano(a) se encontraram pessoalmente nos últimos 2 anos? Há evidências do relacionamento (fotos, mensagens, intenção de casar)?",
			"Have you and your U.S. citizen fiancé(e) met in person in the last 2 years? Do you have relationship evidence (photos, messages, intent to marry)?"},
	},
	visa.CodeEB1A: {
		{"Quais critérios de extraordinária capacidade você atende (prêmio major, associação, papel crítico, autoria, contribuição, salário alto)?",
			"Which extraordinary ability criteria do you meet (major award, association, critical role, authorship, contribution, high salary)?"},
	},
	visa.CodeEB1B: {
		{"O empregador nos EUA é universidade ou instituição de pesquisa e você tem ao menos 3 anos de experiência em pesquisa/ensino?",
			"Is the U.S. employer a university or research institution and do you have at least 3 years of research/teaching experience?"},
	},
	visa.CodeEB1C: {
		{"Você trabalhou 1 ano nos últimos 3 como gerente/executivo na empresa no exterior e a entidade nos EUA existe há pelo menos 1 ano?",
			"Have you worked 1 year in the last 3 as manager/executive in the foreign entity and has the U.S. entity existed for at least 1 year?"},
	},
	visa.CodeB2: {
		{"Quais vínculos (emprego, estudos, família, patrimônio) e fundos você pode demonstrar para comprovar retorno?",
			"Which ties (job, studies, family, assets) and funds can you show to evidence your return?"},
	},
	visa.CodeB1: {
		{"Quais atividades de negócio pretende realizar e quais convites/agenda já possui?",
			"Which business activities will you perform and which invitations/agenda do you already have?"},
	},
	visa.CodeF1: {
		{"Qual o plano acadêmico (curso, campus, duração) e como comprovará recursos suficientes para o período?",
			"What is your academic plan (program, campus, duration) and how will you evidence sufficient funds?"},
	},
	visa.CodeM1: {
		{"O curso é vocacional reconhecido e há recursos/vínculos para retorno ao término?",
			"Is it a recognized vocational program and do you have funds/ties to return upon completion?"},
	},
	visa.CodeJ1: {
		{"Há sponsor (DS-2019) e você está ciente da possível exigência de 2 anos no país de origem (§212(e))?",
			"Do you have a program sponsor (DS-2019) and are you aware of the possible 2-year home requirement (§212(e))?"},
	},
	visa.CodeEB2PERM: {
		{"O empregador concorda com PERM e os requisitos do cargo são compatíveis com seu grau e experiência?",
			"Will the employer run PERM and do the job requirements match your degree/experience?"},
	},
	visa.CodeEB3: {
		{"A posição é 'skilled/professional' e o empregador compreende prazos/custos do processo?",
			"Is the role 'skilled/professional' and does the employer understand timelines/costs of the process?"},
	},
}

// crossCodeFallback names several codes; containment drops an item unless
// every code it names is a candidate.
var crossCodeFallback = []phrase{
	{"[EB2_NIW/O1] Você possui cartas de especialistas independentes que atestem seu impacto e qualificação?",
		"[EB2_NIW/O1] Do you have independent expert letters attesting to your impact and qualifications?"},
	{"[E2/EB5] Você já dispõe de documentação robusta para comprovar a origem lícita dos recursos?",
		"[E2/EB5] Do you already have robust documentation to prove lawful source of funds?"},
	{"[DV] Há alguma estratégia de chargeability via cônjuge/pais que aumente elegibilidade?",
		"[DV] Is there any chargeability strategy via spouse/parents that increases eligibility?"},
}

// fallbackQuestions returns the per-code table entries for top, then the
// cross-code items.
func fallbackQuestions(top []model.Candidate, lang model.Language) []string {
	var out []string
	for _, c := range top {
		for _, p := range fallbackTable[c.Code] {
			out = append(out, "["+string(c.Code)+"] "+p.in(lang))
		}
	}
	for _, p := range crossCodeFallback {
		out = append(out, p.in(lang))
	}
	return out
}

var depthTable = map[visa.Code]phrase{
	visa.CodeEB2NIW: {"[EB2_NIW] Quais métricas objetivas você pode anexar ao plano (KPIs, cartas de apoio institucionais, pilotos, MOUs)?",
		"[EB2_NIW] Which objective metrics can you attach to the plan (KPIs, institutional support letters, pilots, MOUs)?"},
	visa.CodeE2: {"[E2] Você possui contratos preliminares, plano financeiro e cronograma de despesas que demonstram comprometimento substancial?",
		"[E2] Do you have preliminary contracts, a financial plan, and spending timeline showing substantial commitment?"},
	visa.CodeEB5: {"[EB5] Você já avaliou o risco/regulatório do projeto (regional center vs. direto) e possui advogado/assessor financeiro definidos?",
		"[EB5] Have you evaluated project risk/regulatory (regional center vs. direct) and do you have legal/financial advisors engaged?"},
	visa.CodeB2: {"[B2] Há documentação de vínculos (emprego/estudos/patrimônio) e reservas que sustentem o itinerário?",
		"[B2] Do you have documentation of ties (job/studies/assets) and reservations supporting the itinerary?"},
}

// depthTemplates are formatted with the code twice.
var depthTemplates = []phrase{
	{"[%s] Quais documentos você já reuniu para comprovar os requisitos do %s?",
		"[%s] Which documents have you already gathered to prove the %s requirements?"},
	{"[%s] Qual é o seu prazo ideal para iniciar o processo de %s e há alguma data-limite pessoal ou profissional?",
		"[%s] What is your ideal timeline to start the %s process and is there any personal or professional deadline?"},
	{"[%s] Há algo no seu histórico (negativas de visto, permanência irregular, processos) que possa afetar um pedido de %s?",
		"[%s] Is there anything in your history (visa refusals, overstays, legal issues) that could affect a %s application?"},
	{"[%s] Que orçamento você reservou para taxas, traduções e assessoria no processo de %s?",
		"[%s] What budget have you set aside for fees, translations and legal help in the %s process?"},
	{"[%s] Quem acompanhará você (cônjuge, filhos) e eles também precisarão de status dependente no %s?",
		"[%s] Who will accompany you (spouse, children) and will they need dependent status under %s?"},
}

// depthQuestions returns code-specific depth items, then every template for
// each candidate, template-major so padding spreads across candidates.
func depthQuestions(top []model.Candidate, lang model.Language) []string {
	var out []string
	for _, c := range top {
		if p, ok := depthTable[c.Code]; ok {
			out = append(out, p.in(lang))
		}
	}
	for _, t := range depthTemplates {
		for _, c := range top {
			out = append(out, fmt.Sprintf(t.in(lang), c.Code, c.Code))
		}
	}
	return out
}
