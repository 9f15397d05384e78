package patterns

// =============================================================================
// PATTERN DEFINITIONS BY CATEGORY
// All patterns are registered here and compiled once at package init.
// This provides a single source of truth for all detection rules.
// =============================================================================

// --- PROMPT INJECTION PATTERNS ---
// Exactly 14 instruction-override and role-hijack phrasings. Detectors key
// confidence and severity off the match count, so keep this list tight:
// every pattern here is a strong signal on its own.
func (r *Registry) registerInjectionPatterns() {
	cat := CategoryInjection

	r.register("ignore_previous", `(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|commands|rules|directives)`, cat, 95, "Instruction override: ignore previous")
	r.register("disregard_prior", `(?i)disregard\s+(all\s+)?(previous|prior|above|your)\s+(instructions|rules|guidelines|training)`, cat, 95, "Instruction override: disregard prior")
	r.register("forget_instructions", `(?i)forget\s+(all\s+)?(previous|prior|your)\s+(instructions|context|rules)`, cat, 90, "Instruction override: forget context")
	r.register("new_instructions", `(?i)your\s+new\s+(instructions|rules|orders|role)\s+(are|is)`, cat, 90, "Instruction injection: new rules")
	r.register("you_are_now", `(?i)you\s+are\s+now\s+(a|an|the)\s+`, cat, 85, "Identity override: you are now")
	r.register("from_now_on", `(?i)from\s+now\s+on\s+you\s+(are|will|must|should)`, cat, 85, "Identity override: from now on")
	r.register("pretend_roleplay", `(?i)pretend\s+(to\s+be|you\s+are)\s+`, cat, 75, "Identity override: pretend")
	r.register("act_as_privileged", `(?i)act\s+as\s+(if\s+you\s+(are|have)|an?\s+(admin|system|root|unrestricted))`, cat, 80, "Identity override: act as privileged")
	r.register("reveal_prompt", `(?i)(reveal|show|output|repeat|print)\s+(your|the)\s+(system\s+)?(prompt|instructions)`, cat, 90, "System prompt extraction")
	r.register("override_system", `(?i)override\s+(the\s+)?(system|safety|security)\s+(prompt|instructions|rules|settings)`, cat, 95, "Explicit override attempt")
	r.register("bypass_safety", `(?i)bypass\s+(the\s+)?(safety|security|content)\s+(filter|check|policy|rules|restrictions)`, cat, 95, "Explicit bypass attempt")
	r.register("system_tag", `(?i)\[system\]|<system>|<\|im_start\|>system`, cat, 90, "Delimiter injection: system tag")
	r.register("developer_mode", `(?i)(developer|debug|sudo|god)\s+mode`, cat, 70, "Privileged-mode jailbreak")
	r.register("do_anything_now", `(?i)\bDAN\s+mode\b|do\s+anything\s+now`, cat, 75, "DAN-style jailbreak")
}

// --- LEGITIMATE CONTEXT PATTERNS ---
// Benign phrasings that trip keyword heuristics. A match here suppresses
// injection detection for the message.
func (r *Registry) registerLegitimatePatterns() {
	cat := CategoryLegitimate

	r.register("forgot_password", `(?i)(forgot|lost|need\s+to\s+reset)\s+(my\s+)?(password|passphrase)`, cat, 0, "Own password recovery request")
	r.register("reset_own_account", `(?i)(reset|recover|unlock)\s+(it|my\s+(password|account|access))`, cat, 0, "Own account recovery request")
	r.register("how_do_i", `(?i)how\s+(do|can)\s+i\s+(reset|change|recover|update)\s+my`, cat, 0, "Self-service how-to question")
	r.register("reporting_message", `(?i)(someone|this\s+user|another\s+account|they)\s+(sent|said|told|asked|messaged)\s+me`, cat, 0, "User reporting a received message")
	r.register("asking_if_scam", `(?i)(is\s+(it|this)\s+(safe|legit|a\s+scam|phishing)|should\s+i\s+trust)`, cat, 0, "User asking about legitimacy")
	r.register("login_trouble", `(?i)(trouble|problems?|can'?t)\s+(with\s+)?(log(ging)?\s*in|sign(ing)?\s*in)`, cat, 0, "Login trouble report")
}

// --- CREDENTIAL REQUEST PATTERNS ---
// Exactly 10 patterns naming credential material. Credential theft requires
// one of these plus a requesting verb (RequestVerbs) directed at others.
func (r *Registry) registerCredentialPatterns() {
	cat := CategoryCredential

	r.register("password_mention", `(?i)\b(your|the|ur)\s+passwords?\b`, cat, 80, "Password reference")
	r.register("seed_phrase", `(?i)\b(seed|recovery|mnemonic)\s+(phrase|words)\b`, cat, 95, "Wallet seed phrase")
	r.register("private_key", `(?i)\bprivate\s+key\b`, cat, 95, "Private key")
	r.register("api_key", `(?i)\bapi\s*[-_]?\s*keys?\b`, cat, 85, "API key")
	r.register("auth_token", `(?i)\b(auth(entication)?|access|session|bearer)\s+tokens?\b`, cat, 85, "Auth token")
	r.register("two_factor_code", `(?i)\b(2fa|two[-\s]factor|verification|one[-\s]time)\s+code\b`, cat, 90, "2FA / verification code")
	r.register("card_details", `(?i)\b(credit\s+card|card\s+number|cvv|cvc)\b`, cat, 90, "Payment card details")
	r.register("ssn", `(?i)\b(social\s+security\s+number|ssn)\b`, cat, 90, "Social security number")
	r.register("wallet_backup", `(?i)\b(wallet|metamask|keystore)\s+(password|file|backup)\b`, cat, 95, "Wallet backup material")
	r.register("login_details", `(?i)\b(login|account)\s+(details|credentials|info(rmation)?)\b`, cat, 80, "Login credentials")
}

// --- PHISHING CAMPAIGN INDICATORS ---
func (r *Registry) registerPhishingPatterns() {
	cat := CategoryPhishing

	r.register("verify_account", `(?i)verify\s+your\s+(account|identity|wallet|email)`, cat, 75, "Account verification lure")
	r.register("account_suspended", `(?i)(account|wallet)\s+(has\s+been\s+|is\s+|will\s+be\s+)?(suspended|locked|compromised|limited|deactivated)`, cat, 80, "Account suspension scare")
	r.register("click_link", `(?i)click\s+(here|this\s+link|the\s+link\s+below)`, cat, 65, "Click-through lure")
	r.register("claim_prize", `(?i)(claim|collect)\s+your\s+(prize|reward|airdrop|winnings|bonus)`, cat, 80, "Prize claim lure")
	r.register("confirm_details", `(?i)confirm\s+your\s+(details|information|password|identity|payment)`, cat, 80, "Detail confirmation lure")
	r.register("urgent_action", `(?i)(urgent|immediate)\s+action\s+(is\s+)?required`, cat, 70, "Urgency pressure")
	r.register("free_giveaway", `(?i)\b(free|exclusive)\s+(giveaway|airdrop|nft|tokens|crypto)\b`, cat, 75, "Giveaway lure")
}

// --- SUSPICIOUS LINK HEURISTICS ---
func (r *Registry) registerSuspiciousLinkPatterns() {
	cat := CategorySuspiciousLink

	r.register("ip_literal_url", `(?i)https?://\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`, cat, 75, "IP-literal URL")
	r.register("url_shortener", `(?i)https?://(bit\.ly|tinyurl\.com|goo\.gl|t\.co|is\.gd|cutt\.ly|rb\.gy)/`, cat, 60, "URL shortener")
	r.register("punycode_host", `(?i)https?://xn--`, cat, 80, "Punycode hostname")
	r.register("throwaway_tld", `(?i)https?://[^\s/]+\.(tk|ml|ga|cf|gq|zip|mov)(/|$|\s)`, cat, 65, "Throwaway / confusable TLD")
	r.register("brand_spoof_host", `(?i)https?://[^\s/]*-(login|secure|support|verify|official)[^\s/]*\.`, cat, 70, "Brand-spoofing hostname")
	r.register("exfil_service", `(?i)(webhook\.site|requestbin\.|ngrok\.io|pipedream\.net|hookbin\.com)`, cat, 75, "Known exfiltration service")
}
