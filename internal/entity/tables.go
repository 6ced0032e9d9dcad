package entity

// Sector groups companies for the entity statistics.
type Sector string

const (
	SectorBigPharma         Sector = "Big Pharma"
	SectorBiotech           Sector = "Biotech"
	SectorMedicalDevices    Sector = "Medical Devices"
	SectorSurgicalRobotics  Sector = "Surgical Robotics"
	SectorDiagnostics       Sector = "Diagnostics"
	SectorDigitalHealth     Sector = "Digital Health"
	SectorHealthcareSystems Sector = "Healthcare Systems"
	SectorInsurance         Sector = "Insurance"
	SectorUnknown           Sector = "Unknown"
)

// CompanyProfile is what is known about a listed company.
type CompanyProfile struct {
	Name    string   `json:"name"`
	Ticker  string   `json:"ticker,omitempty"`
	Sector  Sector   `json:"sector"`
	Aliases []string `json:"aliases,omitempty"`
}

var companyProfiles = []CompanyProfile{
	{"Pfizer", "PFE", SectorBigPharma, []string{"Pfizer Inc"}},
	{"Johnson & Johnson", "JNJ", SectorBigPharma, []string{"J&J", "JNJ"}},
	{"Merck", "MRK", SectorBigPharma, []string{"Merck & Co", "MSD"}},
	{"AbbVie", "ABBV", SectorBigPharma, nil},
	{"Novartis", "NVS", SectorBigPharma, []string{"Novartis AG"}},
	{"Roche", "RHHBY", SectorBigPharma, []string{"Roche Holding"}},
	{"Bristol-Myers Squibb", "BMY", SectorBigPharma, []string{"BMS", "Bristol Myers"}},
	{"Eli Lilly", "LLY", SectorBigPharma, []string{"Lilly"}},
	{"AstraZeneca", "AZN", SectorBigPharma, nil},
	{"Sanofi", "SNY", SectorBigPharma, nil},
	{"GlaxoSmithKline", "GSK", SectorBigPharma, []string{"GSK"}},
	{"Gilead", "GILD", SectorBigPharma, []string{"Gilead Sciences"}},
	{"Amgen", "AMGN", SectorBigPharma, nil},
	{"Regeneron", "REGN", SectorBigPharma, []string{"Regeneron Pharmaceuticals"}},
	{"Takeda", "TAK", SectorBigPharma, []string{"Takeda Pharmaceutical"}},
	{"Bayer", "BAYRY", SectorBigPharma, []string{"Bayer AG"}},
	{"Novo Nordisk", "NVO", SectorBigPharma, nil},

	{"Moderna", "MRNA", SectorBiotech, nil},
	{"BioNTech", "BNTX", SectorBiotech, nil},
	{"Vertex", "VRTX", SectorBiotech, []string{"Vertex Pharmaceuticals"}},
	{"Biogen", "BIIB", SectorBiotech, nil},
	{"Illumina", "ILMN", SectorBiotech, nil},
	{"CRISPR Therapeutics", "CRSP", SectorBiotech, nil},
	{"Intellia", "NTLA", SectorBiotech, []string{"Intellia Therapeutics"}},

	{"Medtronic", "MDT", SectorMedicalDevices, nil},
	{"Abbott", "ABT", SectorMedicalDevices, []string{"Abbott Laboratories"}},
	{"Boston Scientific", "BSX", SectorMedicalDevices, nil},
	{"Stryker", "SYK", SectorMedicalDevices, nil},
	{"Edwards Lifesciences", "EW", SectorMedicalDevices, []string{"Edwards"}},
	{"Zimmer Biomet", "ZBH", SectorMedicalDevices, []string{"Zimmer"}},
	{"Becton Dickinson", "BDX", SectorMedicalDevices, []string{"BD"}},
	{"Dexcom", "DXCM", SectorMedicalDevices, nil},
	{"ResMed", "RMD", SectorMedicalDevices, nil},
	{"Align Technology", "ALGN", SectorMedicalDevices, []string{"Invisalign"}},

	{"Intuitive Surgical", "ISRG", SectorSurgicalRobotics, []string{"Intuitive", "da Vinci"}},
	{"CMR Surgical", "", SectorSurgicalRobotics, []string{"Versius"}},
	{"Asensus Surgical", "ASXC", SectorSurgicalRobotics, []string{"Senhance"}},

	{"Quest Diagnostics", "DGX", SectorDiagnostics, nil},
	{"LabCorp", "LH", SectorDiagnostics, []string{"Labcorp"}},
	{"Exact Sciences", "EXAS", SectorDiagnostics, nil},
	{"Thermo Fisher", "TMO", SectorDiagnostics, []string{"Thermo Fisher Scientific"}},

	{"Teladoc", "TDOC", SectorDigitalHealth, []string{"Teladoc Health"}},
	{"Veeva Systems", "VEEV", SectorDigitalHealth, []string{"Veeva"}},
	{"Doximity", "DOCS", SectorDigitalHealth, nil},

	{"UnitedHealth", "UNH", SectorHealthcareSystems, []string{"UnitedHealthcare", "United Health"}},
	{"CVS Health", "CVS", SectorHealthcareSystems, []string{"CVS"}},
	{"Cigna", "CI", SectorInsurance, nil},
	{"Humana", "HUM", SectorInsurance, nil},
	{"Anthem", "ELV", SectorInsurance, []string{"Elevance Health"}},
}

var knownCompanies = []string{
	// pharma
	"Pfizer", "Johnson & Johnson", "J&J", "Merck", "AbbVie", "Novartis",
	"Roche", "Bristol-Myers Squibb", "BMS", "Eli Lilly", "Lilly", "AstraZeneca",
	"Sanofi", "GlaxoSmithKline", "GSK", "Gilead", "Amgen", "Regeneron",
	"Moderna", "BioNTech", "Vertex", "Biogen", "Takeda", "Bayer",
	"Boehringer Ingelheim", "Novo Nordisk", "Teva", "Allergan", "Celgene",

	// devices
	"Medtronic", "Abbott", "Abbott Laboratories", "Boston Scientific",
	"Stryker", "Becton Dickinson", "BD", "Edwards Lifesciences",
	"Intuitive Surgical", "Zimmer Biomet", "Smith & Nephew",
	"Baxter", "Dexcom", "ResMed", "Hologic", "Align Technology",
	"DePuy Synthes", "Philips", "Siemens Healthineers", "GE Healthcare",
	"Medela", "Terumo", "Olympus", "Cardinal Health", "McKesson",

	// surgical robotics
	"Intuitive", "da Vinci", "Mako", "ROSA", "Mazor", "Verb Surgical",
	"CMR Surgical", "Versius", "Hugo", "Senhance", "TransEnterix",
	"Auris Health", "Vicarious Surgical", "Asensus Surgical",

	// diagnostics
	"Quest Diagnostics", "LabCorp", "Labcorp", "Exact Sciences",
	"Illumina", "Thermo Fisher", "Roche Diagnostics", "Bio-Rad",
	"Qiagen", "Cepheid", "Beckman Coulter", "Sysmex",

	// digital health and payers
	"Epic", "Cerner", "Oracle Health", "Athenahealth", "Teladoc",
	"Livongo", "Omada Health", "Noom", "Fitbit", "Apple Health",
	"Google Health", "Amazon Health", "CVS Health", "Walgreens",
	"UnitedHealth", "Anthem", "Cigna", "Humana", "Aetna",

	// diabetes
	"Insulet", "Tandem Diabetes", "Tandem", "Omnipod",
	"Abbott FreeStyle", "Medtronic Diabetes", "Beta Bionics",

	// neuromodulation
	"Nevro", "Axonics", "Boston Scientific Neuromodulation",
	"Abbott Neuromodulation", "Medtronic Neuromodulation",

	// orthopedics
	"Zimmer", "Biomet", "DePuy", "Synthes", "Stryker Orthopaedics",
	"Smith+Nephew", "Arthrex", "NuVasive", "Globus Medical",
	"Orthofix", "Wright Medical", "Exactech",

	// cardiovascular
	"Edwards", "Medtronic Cardiac", "Abbott Vascular", "Boston Scientific Cardiac",
	"Biotronik", "LivaNova", "AtriCure", "Spectranetics",

	// health systems
	"HCA Healthcare", "CommonSpirit", "Ascension", "Trinity Health",
	"Providence", "Tenet Healthcare", "Community Health Systems",
	"Universal Health Services", "Mayo Clinic", "Cleveland Clinic",
	"Johns Hopkins", "Mass General", "Kaiser Permanente",
}

var knownProducts = []string{
	// surgical robots
	"da Vinci", "da Vinci Xi", "da Vinci SP", "da Vinci 5",
	"Mako", "Mako SmartRobotics", "ROSA", "ROSA Knee", "ROSA Hip",
	"Hugo RAS", "Versius", "Ion", "Monarch",

	// diabetes
	"FreeStyle Libre", "Libre 2", "Libre 3", "Dexcom G6", "Dexcom G7",
	"Dexcom Stelo", "Omnipod 5", "t:slim X2", "MiniMed 780G",
	"Control-IQ", "Loop", "iLet Bionic Pancreas",

	// cardiac
	"TAVR", "MitraClip", "Watchman", "SAPIEN", "Evolut",
	"HeartMate", "CardioMEMS", "Impella", "ECMO",

	// neuromodulation
	"HFX", "Intellis", "Proclaim", "Spectra", "Precision",
	"Senza", "Omnia", "WaveWriter",

	// orthopedic implants
	"ATTUNE", "JOURNEY", "LEGION", "Triathlon", "Persona",
	"Sigma", "Genesis II", "Oxford", "MAKO TKA",

	// oncology
	"Keytruda", "Opdivo", "Tecentriq", "Imfinzi", "Yervoy",
	"Ibrance", "Tagrisso", "Lynparza", "Darzalex", "Revlimid",

	// other drugs
	"Humira", "Eliquis", "Ozempic", "Wegovy", "Mounjaro", "Zepbound",
	"Trulicity", "Jardiance", "Entresto", "Xarelto", "Eylea",
	"Dupixent", "Stelara", "Skyrizi", "Rinvoq", "Tremfya",
}

// falsePositives are dropped from both lists after matching, ignoring case.
var falsePositives = []string{
	"The", "A", "An", "In", "On", "For", "And", "Or", "But", "With",
	"New", "Study", "Research", "Trial", "Results", "Data", "Health",
	"Medical", "Clinical", "Patient", "Patients", "Treatment", "FDA", "WHO", "CDC", "NIH",
	"Ion", "Loop", "ROSA", "Hugo", "Mako", "Epic",
}

var drugSuffixes = []string{
	"mab", "nib", "lib", "tinib", "zumab", "ximab", "tide", "glutide",
	"parib", "ciclib", "vir", "navir", "previr", "buvir", "statin", "pril", "sartan", "olol",
}
